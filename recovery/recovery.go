// Package recovery implements the HMAC-bound, anti-enumeration recovery
// challenge protocol (spec.md §4.6): a caller proves possession of an
// Ed25519 private key against a short-lived server-bound challenge, and on
// success the identity admin mints a recovery code.
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/problem"
)

// TTL is how long a recovery challenge remains valid after issuance.
const TTL = 5 * time.Minute

// NonceStore is a short-TTL single-use token store: a nonce may be
// consumed exactly once before the challenge's TTL elapses. Grounded on
// the teacher's in-memory TTL store pattern (api/pow.go's PowStore).
type NonceStore interface {
	// Consume reports true the first time it is called for a given nonce
	// within the TTL window, and false on every subsequent call (replay)
	// or once the entry has aged out.
	Consume(ctx context.Context, nonceHex string, ttl time.Duration) (bool, error)
}

// AgentLookup resolves an agent's identityId by its public key. Lookup
// failure (unknown key) must not short-circuit verification — C6 performs
// the same amount of work and returns the same error either way, per
// spec.md's anti-enumeration requirement.
type AgentLookup interface {
	IdentityIDForPublicKey(ctx context.Context, publicKey string) (identityID string, found bool, err error)
}

// IdentityAdmin is the external identity provider's admin surface used to
// mint a recovery code once proof-of-key-possession succeeds.
type IdentityAdmin interface {
	MintRecoveryCode(ctx context.Context, identityID string) (recoveryCode, recoveryFlowURL string, err error)
}

// Engine implements requestChallenge/verifyChallenge.
type Engine struct {
	recoverySecret []byte
	nonces         NonceStore
	agents         AgentLookup
	admin          IdentityAdmin
	now            func() time.Time
}

func NewEngine(recoverySecret []byte, nonces NonceStore, agents AgentLookup, admin IdentityAdmin) (*Engine, error) {
	if len(recoverySecret) < 16 {
		return nil, fmt.Errorf("recovery: recoverySecret must be at least 16 bytes")
	}
	return &Engine{
		recoverySecret: recoverySecret,
		nonces:         nonces,
		agents:         agents,
		admin:          admin,
		now:            time.Now,
	}, nil
}

// ChallengeResponse is the body returned by requestChallenge.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
	HMAC      string `json:"hmac"`
}

// RequestChallenge builds a fresh HMAC-bound challenge for publicKey. The
// response shape is identical whether or not the key is known to the
// system (spec.md §4.6), so this function never consults AgentLookup.
func (e *Engine) RequestChallenge(ctx context.Context, publicKey string) (*ChallengeResponse, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("recovery: generate nonce: %w", err)
	}
	nonceHex := hex.EncodeToString(nonceBytes)
	issuedAtMs := e.now().UnixMilli()

	rc, err := identity.BuildRecoveryChallenge(e.recoverySecret, publicKey, nonceHex, issuedAtMs)
	if err != nil {
		return nil, err
	}

	// The nonce itself is not recorded here: with 256 bits of entropy its
	// first Consume call (at verify time) is effectively its creation,
	// and its second Consume call is the replay this store exists to
	// catch. This avoids a write on every challenge issuance that an
	// anti-enumeration-sensitive, unauthenticated endpoint would rather
	// not pay for.
	return &ChallengeResponse{Challenge: rc.Challenge, HMAC: rc.HMAC}, nil
}

// VerifyRequest is the body of verifyChallenge.
type VerifyRequest struct {
	Challenge string
	HMAC      string
	Signature string // base64
	PublicKey string
}

// VerifyResult is returned on success.
type VerifyResult struct {
	RecoveryCode    string
	RecoveryFlowURL string
}

// VerifyChallenge validates a proof-of-key-possession response and, on
// success, mints a recovery code. Every failure branch (parse error, HMAC
// mismatch, expiry, nonce replay, unknown key, bad signature) returns
// problem.KindInvalidChallenge, each with a Detail naming the stage that
// failed; nonce replay carries the exact detail "Challenge already used"
// (spec.md §8 scenario 6). An unknown key and a bad signature share one
// Detail, so those two cannot be told apart from outside (spec.md §4.6,
// §7). An identity-admin failure surfaces as problem.KindUpstream.
func (e *Engine) VerifyChallenge(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	parsed, err := identity.ParseRecoveryChallenge(req.Challenge)
	if err != nil {
		return nil, problem.New(problem.KindInvalidChallenge, "challenge is malformed")
	}

	if !identity.VerifyRecoveryChallengeHMAC(e.recoverySecret, req.Challenge, req.HMAC) {
		return nil, problem.New(problem.KindInvalidChallenge, "challenge HMAC mismatch")
	}

	if e.now().UnixMilli()-parsed.IssuedAtMs > TTL.Milliseconds() {
		return nil, problem.New(problem.KindInvalidChallenge, "challenge has expired")
	}

	fresh, err := e.nonces.Consume(ctx, parsed.NonceHex, TTL)
	if err != nil {
		return nil, problem.Wrap(problem.KindInvalidChallenge, "challenge could not be verified", err)
	}
	if !fresh {
		return nil, problem.New(problem.KindInvalidChallenge, "Challenge already used")
	}

	// Anti-enumeration: look up the agent and keep going through the same
	// signature-verification work regardless of whether it was found, so
	// an unknown key takes the same code path and roughly the same time
	// as a known one.
	identityID, found, lookupErr := e.agents.IdentityIDForPublicKey(ctx, req.PublicKey)

	pub, parseErr := identity.ParsePublicKey(req.PublicKey)
	sigValid := false
	if parseErr == nil {
		if sigBytes, decErr := base64.StdEncoding.DecodeString(req.Signature); decErr == nil {
			sigValid = identity.VerifyRaw(pub, []byte(req.Challenge), sigBytes)
		}
	}

	if lookupErr != nil || !found || !sigValid {
		return nil, problem.New(problem.KindInvalidChallenge, "signature verification failed")
	}

	code, flowURL, err := e.admin.MintRecoveryCode(ctx, identityID)
	if err != nil {
		return nil, problem.Wrap(problem.KindUpstream, "identity admin failed to mint recovery code", err)
	}

	return &VerifyResult{RecoveryCode: code, RecoveryFlowURL: flowURL}, nil
}
