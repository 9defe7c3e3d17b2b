package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsJWT(t *testing.T) {
	require.True(t, IsJWT("eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiJ4In0.c2ln"))
	require.False(t, IsJWT("opaque-token-abc123"))
	require.False(t, IsJWT("only.two"))
	require.False(t, IsJWT("a..c"))
	require.False(t, IsJWT(""))
}

type fakeJWTVerifier struct {
	ac  *AuthContext
	err error
}

func (f *fakeJWTVerifier) VerifyJWT(ctx context.Context, tok string) (*AuthContext, error) {
	return f.ac, f.err
}

type fakeIntrospector struct {
	result *IntrospectionResult
	err    error
}

func (f *fakeIntrospector) Introspect(ctx context.Context, tok string) (*IntrospectionResult, error) {
	return f.result, f.err
}

type fakeClientFetcher struct {
	client *OAuth2Client
	err    error
}

func (f *fakeClientFetcher) FetchClient(ctx context.Context, clientID string) (*OAuth2Client, error) {
	return f.client, f.err
}

func TestResolveAuthContextJWTPath(t *testing.T) {
	jwtTok := "eyJhbGciOiJFZERTQSJ9.eyJzdWIiOiJ4In0.c2ln"
	want := &AuthContext{IdentityID: "identity-1", Fingerprint: "ABCD-1234"}
	v := NewValidator(&fakeJWTVerifier{ac: want}, &fakeIntrospector{}, nil)

	got, err := v.ResolveAuthContext(context.Background(), jwtTok)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResolveAuthContextFallsBackToIntrospectionOnJWTFailure(t *testing.T) {
	jwtTok := "eyJhbGciOiJFZERTQSJ9.eyJzdWIiOiJ4In0.c2ln"
	v := NewValidator(
		&fakeJWTVerifier{err: errBadSig},
		&fakeIntrospector{result: &IntrospectionResult{
			Active:   true,
			ClientID: "client-9",
			Ext: map[string]string{
				"moltnet:identity_id": "identity-2",
				"moltnet:fingerprint": "DEAD-BEEF",
			},
		}},
		nil,
	)

	got, err := v.ResolveAuthContext(context.Background(), jwtTok)
	require.NoError(t, err)
	require.Equal(t, "identity-2", got.IdentityID)
	require.Equal(t, "DEAD-BEEF", got.Fingerprint)
	require.Equal(t, "client-9", got.ClientID)
}

var errBadSig = fakeTokErr("bad signature")

type fakeTokErr string

func (e fakeTokErr) Error() string { return string(e) }

func TestResolveAuthContextOpaqueTokenUsesIntrospection(t *testing.T) {
	v := NewValidator(nil, &fakeIntrospector{result: &IntrospectionResult{
		Active:   true,
		ClientID: "client-1",
		Ext: map[string]string{
			"moltnet:identity_id":  "identity-3",
			"moltnet:public_key":   "ed25519:abc",
			"moltnet:fingerprint":  "1111-2222",
		},
	}}, nil)

	got, err := v.ResolveAuthContext(context.Background(), "opaque-token-xyz")
	require.NoError(t, err)
	require.Equal(t, "identity-3", got.IdentityID)
}

func TestResolveAuthContextClientMetadataFallback(t *testing.T) {
	v := NewValidator(nil,
		&fakeIntrospector{result: &IntrospectionResult{Active: true, ClientID: "client-42"}},
		&fakeClientFetcher{client: &OAuth2Client{IdentityID: "identity-4", Fingerprint: "9999-0000"}},
	)

	got, err := v.ResolveAuthContext(context.Background(), "opaque-token-xyz")
	require.NoError(t, err)
	require.Equal(t, "identity-4", got.IdentityID)
	require.Equal(t, "9999-0000", got.Fingerprint)
}

func TestResolveAuthContextInactiveTokenIsAnonymousNotError(t *testing.T) {
	v := NewValidator(nil, &fakeIntrospector{result: &IntrospectionResult{Active: false}}, nil)

	got, err := v.ResolveAuthContext(context.Background(), "opaque-token-xyz")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResolveAuthContextIntrospectionErrorNeverLeaks(t *testing.T) {
	v := NewValidator(nil, &fakeIntrospector{err: errBadSig}, nil)

	got, err := v.ResolveAuthContext(context.Background(), "opaque-token-xyz")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResolveAuthContextEmptyTokenIsAnonymous(t *testing.T) {
	v := NewValidator(nil, &fakeIntrospector{}, nil)

	got, err := v.ResolveAuthContext(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestParseScopeString(t *testing.T) {
	require.Equal(t, []string{"read", "write"}, ParseScopeString("read write"))
	require.Nil(t, ParseScopeString(""))
}
