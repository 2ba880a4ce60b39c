package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medledger/internal/config"
	"medledger/internal/domain"
	"medledger/internal/infra/policyopa"
)

const (
	principalContextKey = "principal"

	headerSubject = "X-Principal-Subject"
	headerRoles   = "X-Principal-Roles"
)

// requireAuth resolves the caller and checks permission. With AUTH_MODE=none
// the identity headers are read when present but nothing is enforced.
func (s *Server) requireAuth(c *gin.Context, permission string) (domain.Principal, bool) {
	switch s.cfg.AuthMode {
	case config.AuthModeNone:
		principal := headerPrincipal(c)
		c.Set(principalContextKey, principal)
		return principal, true
	case config.AuthModeHeader, config.AuthModeJWT:
	default:
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Principal{}, false
	}
	if s.authInitErr != nil {
		writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
		return domain.Principal{}, false
	}

	var principal domain.Principal
	if s.cfg.AuthMode == config.AuthModeHeader {
		principal = headerPrincipal(c)
		if principal.Subject == "" {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+headerSubject+" header")
			return domain.Principal{}, false
		}
	} else {
		if s.authenticator == nil {
			writeErrorCode(c, http.StatusInternalServerError, "AUTH_CONFIG_ERROR", "auth configuration error")
			return domain.Principal{}, false
		}
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return domain.Principal{}, false
		}
		var err error
		principal, err = s.authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			return domain.Principal{}, false
		}
	}

	if s.authorizer != nil {
		if err := s.authorizer.Require(c.Request.Context(), principal, permission); err != nil {
			writeAuthzError(c, err)
			return domain.Principal{}, false
		}
	}
	c.Set(principalContextKey, principal)
	return principal, true
}

func headerPrincipal(c *gin.Context) domain.Principal {
	return domain.Principal{
		Subject: strings.TrimSpace(c.GetHeader(headerSubject)),
		Roles:   splitCSV(c.GetHeader(headerRoles)),
	}
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

func writeAuthzError(c *gin.Context, err error) {
	if authz, ok := policyopa.IsAuthzError(err); ok {
		writeErrorCode(c, http.StatusForbidden, authz.Code, "forbidden")
		return
	}
	if errors.Is(err, domain.ErrUnauthorized) {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if errors.Is(err, domain.ErrForbidden) {
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "forbidden")
		return
	}
	writeErrorCode(c, http.StatusInternalServerError, "AUTHZ_ERROR", "authorization failed")
}
