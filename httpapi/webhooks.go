package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/problem"
	"moltnet.dev/core/registration"
	"moltnet.dev/core/token"
)

// AgentUpdater is the narrow write the after-settings webhook needs: a
// key rotation with no voucher redemption and no diary side effect.
type AgentUpdater interface {
	UpdatePublicKey(ctx context.Context, identityID, publicKey, fingerprint string) error
}

// RegisterWebhookRoutes wires the three identity-provider/OAuth2-server
// callbacks from spec.md §6. The two identity-provider callbacks
// (after-registration, after-settings) authenticate via a constant-time
// comparison of a shared secret header rather than bearer tokens, since
// the caller is infrastructure, not an agent. The token-exchange callback
// checks no shared secret; it answers from the named OAuth2 client's
// metadata alone.
func RegisterWebhookRoutes(api huma.API, coordinator *registration.Coordinator, updater AgentUpdater, clients token.OAuth2ClientFetcher, apiKey string) {
	huma.Register(api, huma.Operation{
		OperationID: "webhook-after-registration",
		Method:      "POST",
		Path:        "/webhooks/after-registration",
		Summary:     "Identity-provider post-registration callback",
		Tags:        []string{"webhooks"},
	}, func(ctx context.Context, input *afterRegistrationInput) (*afterRegistrationOutput, error) {
		if !constantTimeEqual(input.APIKey, apiKey) {
			return nil, huma.Error401Unauthorized("invalid webhook credentials")
		}
		result, err := coordinator.Register(ctx, registration.Request{
			PublicKey:   input.Body.Identity.Traits.PublicKey,
			VoucherCode: input.Body.Identity.Traits.VoucherCode,
			IdentityID:  input.Body.Identity.ID,
		})
		if err != nil {
			return nil, providerError(err)
		}
		out := &afterRegistrationOutput{}
		out.Body.Identity.MetadataPublic.Fingerprint = result.Agent.Fingerprint
		out.Body.Identity.MetadataPublic.PublicKey = result.Agent.PublicKey
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "webhook-after-settings",
		Method:      "POST",
		Path:        "/webhooks/after-settings",
		Summary:     "Identity-provider settings-update callback",
		Tags:        []string{"webhooks"},
	}, func(ctx context.Context, input *afterSettingsInput) (*afterSettingsOutput, error) {
		if !constantTimeEqual(input.APIKey, apiKey) {
			return nil, huma.Error401Unauthorized("invalid webhook credentials")
		}
		pub, err := identity.ParsePublicKey(input.Body.Identity.Traits.PublicKey)
		if err != nil {
			return nil, providerError(problem.Wrap(problem.KindInvalidPublicKey, "public key is malformed", err))
		}
		fingerprint := identity.DeriveFingerprint(pub)
		if err := updater.UpdatePublicKey(ctx, input.Body.Identity.ID, input.Body.Identity.Traits.PublicKey, fingerprint); err != nil {
			return nil, huma.Error500InternalServerError("failed to update agent")
		}
		out := &afterSettingsOutput{}
		out.Body.Success = true
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "webhook-token-exchange",
		Method:      "POST",
		Path:        "/webhooks/token-exchange",
		Summary:     "OAuth2 server token-issuance callback",
		Tags:        []string{"webhooks"},
	}, func(ctx context.Context, input *tokenExchangeInput) (*tokenExchangeOutput, error) {
		client, err := clients.FetchClient(ctx, input.Body.ClientID)
		if err != nil || client == nil || client.IdentityID == "" {
			return nil, huma.Error403Forbidden("OAuth2 client is not a registered MoltNet agent")
		}
		out := &tokenExchangeOutput{}
		out.Body.Session.AccessToken = map[string]string{
			"moltnet:identity_id": client.IdentityID,
			"moltnet:public_key":  client.PublicKey,
			"moltnet:fingerprint": client.Fingerprint,
		}
		return out, nil
	})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// providerError maps a registration failure to the identity-provider's
// error envelope shape (spec.md §6): 400 with
// {messages:[{instance_ptr, messages:[{id,text,type,context}]}]}.
func providerError(err error) error {
	return &providerErrorModel{
		status: http.StatusBadRequest,
		body: providerErrorBody{Messages: []providerErrorEntry{{
			InstancePtr: "#/identity/traits",
			Messages: []providerErrorMessage{{
				ID:   4000001,
				Text: err.Error(),
				Type: "error",
			}},
		}}},
	}
}

type providerErrorMessage struct {
	ID      int            `json:"id"`
	Text    string         `json:"text"`
	Type    string         `json:"type"`
	Context map[string]any `json:"context"`
}

type providerErrorEntry struct {
	InstancePtr string                 `json:"instance_ptr"`
	Messages    []providerErrorMessage `json:"messages"`
}

type providerErrorBody struct {
	Messages []providerErrorEntry `json:"messages"`
}

type providerErrorModel struct {
	status int
	body   providerErrorBody
}

func (e *providerErrorModel) Error() string                { return "registration webhook rejected" }
func (e *providerErrorModel) GetStatus() int                { return e.status }
func (e *providerErrorModel) ContentType(_ string) string    { return "application/json" }
func (e *providerErrorModel) MarshalJSON() ([]byte, error) { return json.Marshal(e.body) }

type afterRegistrationInput struct {
	APIKey string `header:"x-ory-api-key" required:"true"`
	Body   struct {
		Identity struct {
			ID     string `json:"id"`
			Traits struct {
				PublicKey   string `json:"public_key"`
				VoucherCode string `json:"voucher_code"`
			} `json:"traits"`
		} `json:"identity"`
	}
}

type afterRegistrationOutput struct {
	Body struct {
		Identity struct {
			MetadataPublic struct {
				Fingerprint string `json:"fingerprint"`
				PublicKey   string `json:"public_key"`
			} `json:"metadata_public"`
		} `json:"identity"`
	}
}

type afterSettingsInput struct {
	APIKey string `header:"x-ory-api-key" required:"true"`
	Body   struct {
		Identity struct {
			ID     string `json:"id"`
			Traits struct {
				PublicKey string `json:"public_key"`
			} `json:"traits"`
		} `json:"identity"`
	}
}

type afterSettingsOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

type tokenExchangeInput struct {
	Body struct {
		ClientID string `json:"client_id"`
	}
}

type tokenExchangeOutput struct {
	Body struct {
		Session struct {
			AccessToken map[string]string `json:"access_token"`
		} `json:"session"`
	}
}
