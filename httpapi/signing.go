package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/ratelimit"
	"moltnet.dev/core/signing"
	"moltnet.dev/core/token"
)

// RegisterSigningRoutes wires C5's create/list/get/submit operations
// (spec.md §6) behind bearer auth.
func RegisterSigningRoutes(api huma.API, svc *signing.Service, validator *token.Validator) {
	huma.Register(api, huma.Operation{
		OperationID: "create-signing-request",
		Method:      "POST",
		Path:        "/signing-requests",
		Summary:     "Create a signing request",
		Tags:        []string{"signing"},
	}, func(ctx context.Context, input *createSigningRequestInput) (*signingRequestOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/signing-requests", err)
		}
		if err := ratelimit.CheckSigningRequestCreate(ac.IdentityID); err != nil {
			return nil, writeProblem("/signing-requests", err)
		}
		req, err := svc.Create(ctx, ac.IdentityID, input.Body.Message)
		if err != nil {
			return nil, writeProblem("/signing-requests", err)
		}
		out := &signingRequestOutput{}
		out.Body = toSigningRequestBody(req)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-signing-requests",
		Method:      "GET",
		Path:        "/signing-requests",
		Summary:     "List this agent's signing requests",
		Tags:        []string{"signing"},
	}, func(ctx context.Context, input *listSigningRequestsInput) (*listSigningRequestsOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/signing-requests", err)
		}
		var statuses []signing.Status
		if input.Status != "" {
			statuses = []signing.Status{signing.Status(input.Status)}
		}
		reqs, err := svc.List(ctx, ac.IdentityID, statuses)
		if err != nil {
			return nil, writeProblem("/signing-requests", err)
		}
		out := &listSigningRequestsOutput{}
		out.Body.Items = make([]signingRequestBody, 0, len(reqs))
		for _, r := range reqs {
			out.Body.Items = append(out.Body.Items, toSigningRequestBody(r))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-signing-request",
		Method:      "GET",
		Path:        "/signing-requests/{id}",
		Summary:     "Get a signing request",
		Tags:        []string{"signing"},
	}, func(ctx context.Context, input *signingRequestIDInput) (*signingRequestOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/signing-requests/"+input.ID, err)
		}
		req, err := svc.Get(ctx, input.ID, ac.IdentityID)
		if err != nil {
			return nil, writeProblem("/signing-requests/"+input.ID, err)
		}
		out := &signingRequestOutput{}
		out.Body = toSigningRequestBody(req)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-signing-request",
		Method:      "POST",
		Path:        "/signing-requests/{id}/submit",
		Summary:     "Submit a signature for a pending signing request",
		Tags:        []string{"signing"},
	}, func(ctx context.Context, input *submitSigningRequestInput) (*signingRequestOutput, error) {
		ac, err := bearerAuth(ctx, validator, input.Authorization)
		if err != nil {
			return nil, writeProblem("/signing-requests/"+input.ID+"/submit", err)
		}
		req, err := svc.Submit(ctx, input.ID, ac.IdentityID, input.Body.Signature)
		if err != nil {
			return nil, writeProblem("/signing-requests/"+input.ID+"/submit", err)
		}
		out := &signingRequestOutput{}
		out.Body = toSigningRequestBody(req)
		return out, nil
	})
}

type createSigningRequestInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
	Body          struct {
		Message string `json:"message" doc:"UTF-8 message to sign" minLength:"1" maxLength:"100000"`
	}
}

type listSigningRequestsInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
	Status        string `query:"status" doc:"Filter by status: pending, completed, expired" required:"false"`
}

type signingRequestIDInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
	ID            string `path:"id"`
}

type submitSigningRequestInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token" required:"true"`
	ID            string `path:"id"`
	Body          struct {
		Signature string `json:"signature" doc:"Base64-encoded Ed25519 signature of signingInput" minLength:"1" maxLength:"256"`
	}
}

type signingRequestBody struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Message      string  `json:"message"`
	Nonce        string  `json:"nonce"`
	SigningInput string  `json:"signingInput"`
	Signature    *string `json:"signature,omitempty"`
	Valid        *bool   `json:"valid,omitempty"`
	CreatedAt    string  `json:"createdAt"`
	ExpiresAt    string  `json:"expiresAt"`
	CompletedAt  *string `json:"completedAt,omitempty"`
}

type signingRequestOutput struct {
	Body signingRequestBody
}

type listSigningRequestsOutput struct {
	Body struct {
		Items []signingRequestBody `json:"items"`
	}
}

func toSigningRequestBody(r *signing.SigningRequest) signingRequestBody {
	body := signingRequestBody{
		ID:           r.ID,
		Status:       string(r.Status),
		Message:      r.Message,
		Nonce:        r.Nonce,
		SigningInput: r.SigningInput(),
		Signature:    r.Signature,
		Valid:        r.Valid,
		CreatedAt:    r.CreatedAt.UTC().Format(timeFormat),
		ExpiresAt:    r.ExpiresAt.UTC().Format(timeFormat),
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.UTC().Format(timeFormat)
		body.CompletedAt = &s
	}
	return body
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
