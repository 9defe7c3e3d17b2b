package httpapi

import (
	"context"
	"strings"

	"moltnet.dev/core/problem"
	"moltnet.dev/core/token"
)

// bearerAuth extracts the bearer token from a raw Authorization header
// value ("Bearer <token>" or a bare token) and resolves it to an
// AuthContext. A missing, malformed, or unresolvable token returns
// problem.KindUnauthorized — handlers never see the difference between
// "no token" and "bad token", matching spec.md §7.
func bearerAuth(ctx context.Context, validator *token.Validator, authorization string) (*token.AuthContext, error) {
	tok := strings.TrimSpace(authorization)
	tok = strings.TrimPrefix(tok, "Bearer ")
	tok = strings.TrimPrefix(tok, "bearer ")
	tok = strings.TrimSpace(tok)

	ac, err := validator.ResolveAuthContext(ctx, tok)
	if err != nil || ac == nil || ac.IdentityID == "" {
		return nil, problem.New(problem.KindUnauthorized, "missing or invalid bearer token")
	}
	return ac, nil
}
