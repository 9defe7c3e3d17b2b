package httpapi

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/problem"
)

// FingerprintLookup resolves an agent's public key by its fingerprint,
// used only by the by-fingerprint verify endpoint below.
type FingerprintLookup interface {
	PublicKeyForFingerprint(ctx context.Context, fingerprint string) (pub ed25519.PublicKey, found bool, err error)
}

// RegisterVerifyRoutes wires the two C1-backed signature-verification
// endpoints (spec.md §6): one resolves the signer by fingerprint, the
// other verifies a caller-supplied public key directly.
func RegisterVerifyRoutes(api huma.API, agents FingerprintLookup) {
	huma.Register(api, huma.Operation{
		OperationID: "verify-signature-by-fingerprint",
		Method:      "POST",
		Path:        "/agents/{fingerprint}/verify",
		Summary:     "Verify a signature against a registered agent's public key",
		Tags:        []string{"verify"},
	}, func(ctx context.Context, input *verifyByFingerprintInput) (*verifyByFingerprintOutput, error) {
		pub, found, err := agents.PublicKeyForFingerprint(ctx, input.Fingerprint)
		if err != nil || !found {
			return nil, writeProblem("/agents/"+input.Fingerprint+"/verify", problem.New(problem.KindNotFound, "agent not found"))
		}
		valid := identity.Verify(pub, input.Body.Message, input.Body.Nonce, decodeSigOrEmpty(input.Body.Signature))
		out := &verifyByFingerprintOutput{}
		out.Body.Valid = valid
		if valid {
			s := input.Fingerprint
			out.Body.Signer = &s
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-signature-public",
		Method:      "POST",
		Path:        "/verify",
		Summary:     "Verify a signature against a caller-supplied public key",
		Tags:        []string{"verify"},
	}, func(ctx context.Context, input *verifyPublicInput) (*verifyPublicOutput, error) {
		pub, err := identity.ParsePublicKey(input.Body.PublicKey)
		if err != nil {
			out := &verifyPublicOutput{}
			out.Body.Valid = false
			return out, nil
		}
		out := &verifyPublicOutput{}
		out.Body.Valid = identity.Verify(pub, input.Body.Message, input.Body.Nonce, decodeSigOrEmpty(input.Body.Signature))
		return out, nil
	})
}

func decodeSigOrEmpty(b64sig string) []byte {
	sig, err := base64.StdEncoding.DecodeString(b64sig)
	if err != nil {
		return nil
	}
	return sig
}

type verifyByFingerprintInput struct {
	Fingerprint string `path:"fingerprint"`
	Body        struct {
		Message   string `json:"message" minLength:"1"`
		Nonce     string `json:"nonce" minLength:"1"`
		Signature string `json:"signature" doc:"base64-encoded Ed25519 signature"`
	}
}

type verifyByFingerprintOutput struct {
	Body struct {
		Valid  bool    `json:"valid"`
		Signer *string `json:"signer,omitempty"`
	}
}

type verifyPublicInput struct {
	Body struct {
		PublicKey string `json:"publicKey" minLength:"1"`
		Message   string `json:"message" minLength:"1"`
		Nonce     string `json:"nonce" minLength:"1"`
		Signature string `json:"signature" doc:"base64-encoded Ed25519 signature"`
	}
}

type verifyPublicOutput struct {
	Body struct {
		Valid bool `json:"valid"`
	}
}
