package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/token"
)

// RegisterWhoamiRoutes wires the bearer-authenticated identity-introspection
// endpoint (spec.md §6).
func RegisterWhoamiRoutes(api huma.API, validator *token.Validator) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      "GET",
		Path:        "/whoami",
		Summary:     "Resolve the caller's identity from its bearer token",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *whoamiInput) (*whoamiOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/whoami", err)
		}
		out := &whoamiOutput{}
		out.Body.IdentityID = ac.IdentityID
		out.Body.PublicKey = ac.PublicKey
		out.Body.Fingerprint = ac.Fingerprint
		out.Body.ClientID = ac.ClientID
		return out, nil
	})
}

type whoamiInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
}

type whoamiOutput struct {
	Body struct {
		IdentityID  string `json:"identityId"`
		PublicKey   string `json:"publicKey"`
		Fingerprint string `json:"fingerprint"`
		ClientID    string `json:"clientId,omitempty"`
	}
}
