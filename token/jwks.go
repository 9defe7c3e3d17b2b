package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwk is the subset of RFC 7517 fields MoltNet needs to reconstruct a
// public key. No JWK-parsing library exists anywhere in the example
// corpus this service is grounded on, so this is a deliberate, documented
// standard-library exception (see DESIGN.md) built directly on
// crypto/rsa and crypto/ed25519, the same packages the teacher's own
// ed25519.go already depends on.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

func (k jwk) publicKey() (interface{}, error) {
	switch k.Kty {
	case "OKP":
		if k.Crv != "Ed25519" {
			return nil, fmt.Errorf("token: unsupported OKP curve %q", k.Crv)
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("token: decode Ed25519 jwk x: %w", err)
		}
		return ed25519.PublicKey(raw), nil
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("token: decode RSA jwk n: %w", err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("token: decode RSA jwk e: %w", err)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}, nil
	default:
		return nil, fmt.Errorf("token: unsupported jwk kty %q", k.Kty)
	}
}

// jwksCacheEntry is one bounded, TTL-scoped cache slot.
type jwksCacheEntry struct {
	keys      map[string]jwk
	fetchedAt time.Time
}

// JWKSVerifier implements JWTVerifier by fetching signing keys from a
// JWKS URI with a bounded, TTL'd cache (spec.md §4.2, §5: "the JWKS cache
// has bounded size and TTL").
type JWKSVerifier struct {
	jwksURI        string
	allowedIssuers map[string]bool
	allowedAud     map[string]bool
	httpClient     *http.Client

	mu        sync.Mutex
	cache     *jwksCacheEntry
	cacheTTL  time.Duration
	maxKeyAge time.Duration
}

func NewJWKSVerifier(jwksURI string, allowedIssuers, allowedAudiences []string) *JWKSVerifier {
	issuers := make(map[string]bool, len(allowedIssuers))
	for _, i := range allowedIssuers {
		issuers[i] = true
	}
	auds := make(map[string]bool, len(allowedAudiences))
	for _, a := range allowedAudiences {
		auds[a] = true
	}
	return &JWKSVerifier{
		jwksURI:        jwksURI,
		allowedIssuers: issuers,
		allowedAud:     auds,
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		cacheTTL:       10 * time.Minute,
	}
}

func (v *JWKSVerifier) keyByKID(ctx context.Context, kid string) (jwk, error) {
	v.mu.Lock()
	if v.cache != nil && time.Since(v.cache.fetchedAt) < v.cacheTTL {
		k, ok := v.cache.keys[kid]
		v.mu.Unlock()
		if ok {
			return k, nil
		}
		// Cache miss on kid: fall through to refetch in case of rotation.
	} else {
		v.mu.Unlock()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURI, nil)
	if err != nil {
		return jwk{}, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return jwk{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jwk{}, fmt.Errorf("token: jwks fetch returned status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jwk{}, fmt.Errorf("token: decode jwks: %w", err)
	}

	keys := make(map[string]jwk, len(set.Keys))
	for _, k := range set.Keys {
		keys[k.Kid] = k
	}

	v.mu.Lock()
	v.cache = &jwksCacheEntry{keys: keys, fetchedAt: time.Now()}
	v.mu.Unlock()

	k, ok := keys[kid]
	if !ok {
		return jwk{}, fmt.Errorf("token: no jwk found for kid %q", kid)
	}
	return k, nil
}

// moltnetClaims are the registered claims plus MoltNet's ext-claims,
// carried on the JWT directly when the access token is itself a JWT
// (rather than opaque + introspected).
type moltnetClaims struct {
	jwt.RegisteredClaims
	IdentityID  string `json:"moltnet:identity_id"`
	PublicKey   string `json:"moltnet:public_key"`
	Fingerprint string `json:"moltnet:fingerprint"`
	ClientID    string `json:"client_id"`
	Scope       string `json:"scope"`
}

// VerifyJWT verifies signature, iss, aud, exp, and optional nbf, returning
// the embedded MoltNet claims as an AuthContext. Any failure is returned
// as an error so the caller (Validator.ResolveAuthContext) falls back to
// introspection, per spec.md §4.2.
func (v *JWKSVerifier) VerifyJWT(ctx context.Context, tok string) (*AuthContext, error) {
	var claims moltnetClaims
	_, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token: jwt missing kid header")
		}
		k, err := v.keyByKID(ctx, kid)
		if err != nil {
			return nil, err
		}
		return k.publicKey()
	}, jwt.WithValidMethods([]string{"RS256", "EdDSA"}))
	if err != nil {
		return nil, err
	}

	if !v.allowedIssuers[claims.Issuer] {
		return nil, fmt.Errorf("token: issuer %q not allowed", claims.Issuer)
	}
	audOK := false
	for _, a := range claims.Audience {
		if v.allowedAud[a] {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, fmt.Errorf("token: audience not allowed")
	}
	if claims.IdentityID == "" {
		return nil, fmt.Errorf("token: jwt missing moltnet identity claim")
	}

	return &AuthContext{
		IdentityID:  claims.IdentityID,
		PublicKey:   claims.PublicKey,
		Fingerprint: claims.Fingerprint,
		ClientID:    claims.ClientID,
		Scopes:      ParseScopeString(claims.Scope),
	}, nil
}
