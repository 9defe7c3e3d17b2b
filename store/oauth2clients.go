package store

import (
	"context"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/token"
)

// OAuth2ClientStore implements token.OAuth2ClientFetcher against the
// moltnet_oauth2_clients collection, used as the client-metadata fallback
// when introspection returns no MoltNet ext-claims.
type OAuth2ClientStore struct {
	app core.App
}

func NewOAuth2ClientStore(app core.App) *OAuth2ClientStore {
	return &OAuth2ClientStore{app: app}
}

func (s *OAuth2ClientStore) FetchClient(ctx context.Context, clientID string) (*token.OAuth2Client, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_oauth2_clients",
		"client_id = {:id}",
		map[string]any{"id": clientID},
	)
	if err != nil {
		return nil, err
	}
	return &token.OAuth2Client{
		IdentityID:  record.GetString("identity_id"),
		PublicKey:   record.GetString("public_key"),
		Fingerprint: record.GetString("fingerprint"),
	}, nil
}
