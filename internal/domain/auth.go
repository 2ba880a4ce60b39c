package domain

import "context"

type Principal struct {
	Subject   string
	Roles     []string
	RawClaims map[string]any
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Principal, error)
}

type Authorizer interface {
	Require(ctx context.Context, principal Principal, permission string) error
}
