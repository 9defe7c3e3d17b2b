package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPIntrospector calls an external OAuth2 server's RFC 7662 token
// introspection endpoint, grounded on the teacher's pattern of a thin
// http.Client wrapper per external dependency (api/auth.go's calls out to
// the upstream identity provider).
type HTTPIntrospector struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewHTTPIntrospector(endpoint, clientID, clientSecret string) *HTTPIntrospector {
	return &HTTPIntrospector{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

type introspectionWireResult struct {
	Active                  bool   `json:"active"`
	ClientID                string `json:"client_id"`
	Scope                   string `json:"scope"`
	Exp                     int64  `json:"exp"`
	MoltnetIdentityID       string `json:"moltnet:identity_id"`
	MoltnetPublicKey        string `json:"moltnet:public_key"`
	MoltnetFingerprint      string `json:"moltnet:fingerprint"`
}

func (h *HTTPIntrospector) Introspect(ctx context.Context, tok string) (*IntrospectionResult, error) {
	form := url.Values{"token": {tok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(h.clientID, h.clientSecret)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token: introspection endpoint returned status %d", resp.StatusCode)
	}

	var wire introspectionWireResult
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("token: decode introspection response: %w", err)
	}

	result := &IntrospectionResult{
		Active:    wire.Active,
		ClientID:  wire.ClientID,
		Scopes:    ParseScopeString(wire.Scope),
		ExpiresAt: wire.Exp,
	}
	if wire.MoltnetIdentityID != "" {
		result.Ext = map[string]string{
			"moltnet:identity_id": wire.MoltnetIdentityID,
			"moltnet:public_key":  wire.MoltnetPublicKey,
			"moltnet:fingerprint": wire.MoltnetFingerprint,
		}
	}
	return result, nil
}
