// Package token implements C2, the token validator: classifying a bearer
// token as JWT or opaque, resolving it to an AuthContext via JWKS
// verification or OAuth2 introspection, and falling back to OAuth2-client
// metadata when the introspection response carries no MoltNet ext-claims.
package token

import (
	"context"
	"strings"
)

// AuthContext is the resolved principal for an authenticated request
// (spec.md §3). A nil *AuthContext denotes an anonymous caller.
type AuthContext struct {
	IdentityID  string
	PublicKey   string
	Fingerprint string
	ClientID    string
	Scopes      []string
}

// HasScope reports whether the context carries the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// IsJWT classifies a bearer token by shape alone — three dot-separated
// base64url segments — with no network call, per spec.md §4.2 and §6
// ("Token classification is purely local; no network call is made for a
// token that is obviously malformed").
func IsJWT(tok string) bool {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" || !isBase64URL(p) {
			return false
		}
	}
	return true
}

func isBase64URL(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '=':
		default:
			return false
		}
	}
	return true
}

// IntrospectionResult mirrors the OAuth2 introspection response shape
// from spec.md §4.2.
type IntrospectionResult struct {
	Active    bool
	ClientID  string
	Scopes    []string
	ExpiresAt int64
	// Ext carries the MoltNet extension claims when present:
	// moltnet:identity_id, moltnet:public_key, moltnet:fingerprint.
	Ext map[string]string
}

// Introspector calls the external OAuth2 server's token introspection
// endpoint.
type Introspector interface {
	Introspect(ctx context.Context, tok string) (*IntrospectionResult, error)
}

// OAuth2Client is the subset of an OAuth2 client's registration metadata
// MoltNet reads for the client-metadata fallback.
type OAuth2Client struct {
	IdentityID  string
	PublicKey   string
	Fingerprint string
}

// OAuth2ClientFetcher fetches a registered OAuth2 client's metadata by
// clientId, used only as a fallback when introspection returns no
// ext-claims.
type OAuth2ClientFetcher interface {
	FetchClient(ctx context.Context, clientID string) (*OAuth2Client, error)
}

// JWTVerifier verifies a JWT against a JWKS-resolved key and the
// configured issuer/audience allow-lists, returning its MoltNet claims.
type JWTVerifier interface {
	VerifyJWT(ctx context.Context, tok string) (*AuthContext, error)
}

// Validator implements resolveAuthContext: classify, then JWT-verify or
// introspect, then fall back to client metadata.
type Validator struct {
	jwtVerifier  JWTVerifier // nil if no JWKS URI is configured
	introspector Introspector
	clients      OAuth2ClientFetcher
}

func NewValidator(jwtVerifier JWTVerifier, introspector Introspector, clients OAuth2ClientFetcher) *Validator {
	return &Validator{jwtVerifier: jwtVerifier, introspector: introspector, clients: clients}
}

// ResolveAuthContext implements spec.md §4.2's resolveAuthContext. It
// never returns a raw error for an inactive/invalid token — only (nil,
// nil) — so handlers uniformly treat a failed resolution as an anonymous
// caller needing a 401 at the edge, matching §4.2's "never leak the
// underlying error."
func (v *Validator) ResolveAuthContext(ctx context.Context, bearerToken string) (*AuthContext, error) {
	if bearerToken == "" {
		return nil, nil
	}

	if IsJWT(bearerToken) && v.jwtVerifier != nil {
		if ac, err := v.jwtVerifier.VerifyJWT(ctx, bearerToken); err == nil && ac != nil {
			return ac, nil
		}
		// Any JWT failure (bad signature, issuer, audience, expiry) falls
		// back to introspection per spec.md §4.2.
	}

	result, err := v.introspector.Introspect(ctx, bearerToken)
	if err != nil || result == nil || !result.Active {
		return nil, nil
	}

	ac := &AuthContext{
		ClientID: result.ClientID,
		Scopes:   result.Scopes,
	}
	if id, ok := result.Ext["moltnet:identity_id"]; ok && id != "" {
		ac.IdentityID = id
		ac.PublicKey = result.Ext["moltnet:public_key"]
		ac.Fingerprint = result.Ext["moltnet:fingerprint"]
		return ac, nil
	}

	// Client-metadata fallback: ext-claims absent but a clientId is
	// present.
	if ac.ClientID == "" || v.clients == nil {
		return nil, nil
	}
	client, err := v.clients.FetchClient(ctx, ac.ClientID)
	if err != nil || client == nil || client.IdentityID == "" {
		return nil, nil
	}
	ac.IdentityID = client.IdentityID
	ac.PublicKey = client.PublicKey
	ac.Fingerprint = client.Fingerprint
	return ac, nil
}

// ParseScopeString splits an OAuth2 introspection response's space-
// separated (possibly empty or absent) "scope" field into a slice.
func ParseScopeString(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
