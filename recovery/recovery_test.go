package recovery

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/problem"
)

type fakeAgents struct {
	known map[string]string // publicKey -> identityID
}

func (f *fakeAgents) IdentityIDForPublicKey(ctx context.Context, publicKey string) (string, bool, error) {
	id, ok := f.known[publicKey]
	return id, ok, nil
}

type fakeAdmin struct {
	fail bool
}

func (f *fakeAdmin) MintRecoveryCode(ctx context.Context, identityID string) (string, string, error) {
	if f.fail {
		return "", "", errUpstream
	}
	return "recovery-code-for-" + identityID, "https://recover.example/" + identityID, nil
}

var errUpstream = fakeErr("identity admin unreachable")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func newTestEngine(t *testing.T, agents *fakeAgents, admin *fakeAdmin) *Engine {
	t.Helper()
	secret := []byte("0123456789abcdef0123456789abcdef")
	e, err := NewEngine(secret, NewInMemoryNonceStore(), agents, admin)
	require.NoError(t, err)
	return e
}

func TestRecoveryHappyPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wire := identity.FormatPublicKey(pub)

	agents := &fakeAgents{known: map[string]string{wire: "identity-123"}}
	admin := &fakeAdmin{}
	e := newTestEngine(t, agents, admin)
	ctx := context.Background()

	cr, err := e.RequestChallenge(ctx, wire)
	require.NoError(t, err)
	require.NotEmpty(t, cr.Challenge)
	require.NotEmpty(t, cr.HMAC)

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(cr.Challenge)))
	result, err := e.VerifyChallenge(ctx, VerifyRequest{
		Challenge: cr.Challenge,
		HMAC:      cr.HMAC,
		Signature: sig,
		PublicKey: wire,
	})
	require.NoError(t, err)
	require.Equal(t, "recovery-code-for-identity-123", result.RecoveryCode)
}

func TestRecoveryNonceReplayRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wire := identity.FormatPublicKey(pub)

	agents := &fakeAgents{known: map[string]string{wire: "identity-123"}}
	admin := &fakeAdmin{}
	e := newTestEngine(t, agents, admin)
	ctx := context.Background()

	cr, err := e.RequestChallenge(ctx, wire)
	require.NoError(t, err)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(cr.Challenge)))

	vr := VerifyRequest{Challenge: cr.Challenge, HMAC: cr.HMAC, Signature: sig, PublicKey: wire}
	_, err = e.VerifyChallenge(ctx, vr)
	require.NoError(t, err)

	_, err = e.VerifyChallenge(ctx, vr)
	require.True(t, problem.Is(err, problem.KindInvalidChallenge))
	pe := err.(*problem.Error)
	require.Equal(t, "Challenge already used", pe.Detail)
}

func TestRecoveryAntiEnumerationUnknownKeySameShapeAndCode(t *testing.T) {
	unknownPub, unknownPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	unknownWire := identity.FormatPublicKey(unknownPub)

	agents := &fakeAgents{known: map[string]string{}}
	admin := &fakeAdmin{}
	e := newTestEngine(t, agents, admin)
	ctx := context.Background()

	cr, err := e.RequestChallenge(ctx, unknownWire)
	require.NoError(t, err)
	require.NotEmpty(t, cr.Challenge)
	require.NotEmpty(t, cr.HMAC)

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(unknownPriv, []byte(cr.Challenge)))
	_, err = e.VerifyChallenge(ctx, VerifyRequest{
		Challenge: cr.Challenge, HMAC: cr.HMAC, Signature: sig, PublicKey: unknownWire,
	})
	require.True(t, problem.Is(err, problem.KindInvalidChallenge))
}

func TestRecoveryBadHMACRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wire := identity.FormatPublicKey(pub)

	agents := &fakeAgents{known: map[string]string{wire: "id"}}
	admin := &fakeAdmin{}
	e := newTestEngine(t, agents, admin)
	ctx := context.Background()

	cr, err := e.RequestChallenge(ctx, wire)
	require.NoError(t, err)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(cr.Challenge)))

	_, err = e.VerifyChallenge(ctx, VerifyRequest{
		Challenge: cr.Challenge, HMAC: "deadbeef", Signature: sig, PublicKey: wire,
	})
	require.True(t, problem.Is(err, problem.KindInvalidChallenge))
}

func TestRecoveryUpstreamErrorSurfaces(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wire := identity.FormatPublicKey(pub)

	agents := &fakeAgents{known: map[string]string{wire: "id"}}
	admin := &fakeAdmin{fail: true}
	e := newTestEngine(t, agents, admin)
	ctx := context.Background()

	cr, err := e.RequestChallenge(ctx, wire)
	require.NoError(t, err)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(cr.Challenge)))

	_, err = e.VerifyChallenge(ctx, VerifyRequest{
		Challenge: cr.Challenge, HMAC: cr.HMAC, Signature: sig, PublicKey: wire,
	})
	require.True(t, problem.Is(err, problem.KindUpstream))
}
