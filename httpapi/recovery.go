package httpapi

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/ratelimit"
	"moltnet.dev/core/recovery"
)

// RegisterRecoveryRoutes wires C6's unauthenticated challenge/verify pair
// (spec.md §6).
func RegisterRecoveryRoutes(api huma.API, engine *recovery.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "recovery-challenge",
		Method:      "POST",
		Path:        "/recovery/challenge",
		Summary:     "Request a recovery challenge",
		Tags:        []string{"recovery"},
	}, func(ctx context.Context, input *recoveryChallengeInput) (*recoveryChallengeOutput, error) {
		if err := ratelimit.CheckRecoveryAttempt(input.ClientIP); err != nil {
			return nil, writeProblem("/recovery/challenge", err)
		}
		resp, err := engine.RequestChallenge(ctx, input.Body.PublicKey)
		if err != nil {
			return nil, writeProblem("/recovery/challenge", err)
		}
		out := &recoveryChallengeOutput{}
		out.Body.Challenge = resp.Challenge
		out.Body.HMAC = resp.HMAC
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recovery-verify",
		Method:      "POST",
		Path:        "/recovery/verify",
		Summary:     "Verify a recovery challenge and mint a recovery code",
		Tags:        []string{"recovery"},
	}, func(ctx context.Context, input *recoveryVerifyInput) (*recoveryVerifyOutput, error) {
		if err := ratelimit.CheckRecoveryAttempt(input.ClientIP); err != nil {
			return nil, writeProblem("/recovery/verify", err)
		}
		result, err := engine.VerifyChallenge(ctx, recovery.VerifyRequest{
			Challenge: input.Body.Challenge,
			HMAC:      input.Body.HMAC,
			Signature: input.Body.Signature,
			PublicKey: input.Body.PublicKey,
		})
		if err != nil {
			return nil, writeProblem("/recovery/verify", err)
		}
		out := &recoveryVerifyOutput{}
		out.Body.RecoveryCode = result.RecoveryCode
		out.Body.RecoveryFlowURL = result.RecoveryFlowURL
		return out, nil
	})
}

type recoveryChallengeInput struct {
	ClientIP string `header:"X-Real-IP" doc:"set by the reverse proxy" required:"false"`
	Body     struct {
		PublicKey string `json:"publicKey" doc:"ed25519:<base64> public key" minLength:"1"`
	}
}

type recoveryChallengeOutput struct {
	Body struct {
		Challenge string `json:"challenge"`
		HMAC      string `json:"hmac"`
	}
}

type recoveryVerifyInput struct {
	ClientIP string `header:"X-Real-IP" doc:"set by the reverse proxy" required:"false"`
	Body     struct {
		Challenge string `json:"challenge" minLength:"1"`
		HMAC      string `json:"hmac" minLength:"1"`
		Signature string `json:"signature" minLength:"1"`
		PublicKey string `json:"publicKey" minLength:"1"`
	}
}

type recoveryVerifyOutput struct {
	Body struct {
		RecoveryCode    string `json:"recoveryCode"`
		RecoveryFlowURL string `json:"recoveryFlowUrl"`
	}
}
