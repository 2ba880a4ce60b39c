package policyopa

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"medledger/internal/domain"
)

const (
	PermRecordsWrite   = "records:write"
	PermRecordsRevoke  = "records:revoke"
	PermRecordsShare   = "records:share"
	PermLedgerRead     = "ledger:read"
	PermLedgerBlocks   = "ledger:blocks"
	PermLedgerValidate = "ledger:validate"

	allowQuery = "data.medledger.authz.allow"
)

//go:embed authz.rego
var defaultPolicy string

// AuthzError carries a machine readable code for a denied request.
type AuthzError struct {
	Code string
	Err  error
}

func (e *AuthzError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code
}

func (e *AuthzError) Unwrap() error { return e.Err }

func IsAuthzError(err error) (*AuthzError, bool) {
	var authz *AuthzError
	if errors.As(err, &authz) {
		return authz, true
	}
	return nil, false
}

// Authorizer decides role permissions with a Rego policy.
type Authorizer struct {
	query rego.PreparedEvalQuery
}

func NewAuthorizer(ctx context.Context) (*Authorizer, error) {
	return NewAuthorizerFromSource(ctx, defaultPolicy)
}

func NewAuthorizerFromSource(ctx context.Context, source string) (*Authorizer, error) {
	prepared, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("authz.rego", source),
		rego.StrictBuiltinErrors(true),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare authorization policy: %w", err)
	}
	return &Authorizer{query: prepared}, nil
}

func (a *Authorizer) Require(ctx context.Context, principal domain.Principal, permission string) error {
	if principal.Subject == "" {
		return domain.ErrUnauthorized
	}
	if permission == "" {
		return nil
	}
	roles := principal.Roles
	if roles == nil {
		roles = []string{}
	}
	results, err := a.query.Eval(ctx, rego.EvalInput(map[string]any{
		"subject":    principal.Subject,
		"roles":      roles,
		"permission": permission,
	}))
	if err != nil {
		return fmt.Errorf("evaluate authorization policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return &AuthzError{Code: "POLICY_UNDEFINED", Err: domain.ErrForbidden}
	}
	if allowed, _ := results[0].Expressions[0].Value.(bool); !allowed {
		return &AuthzError{Code: "MISSING_ROLE", Err: domain.ErrForbidden}
	}
	return nil
}

var _ domain.Authorizer = (*Authorizer)(nil)
