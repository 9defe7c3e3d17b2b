package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/httpapi"
)

// DirectoryStore implements httpapi.AgentDirectory against moltnet_agents
// and moltnet_vouchers, grounded on the teacher's AgentListInput/
// AgentDetailOutput query-and-count pattern in api/auth.go.
type DirectoryStore struct {
	app core.App
}

func NewDirectoryStore(app core.App) *DirectoryStore {
	return &DirectoryStore{app: app}
}

func (s *DirectoryStore) ListAgents(ctx context.Context, q string, limit, offset int) ([]httpapi.AgentSummary, int, error) {
	filter := ""
	params := map[string]any{}
	if q != "" {
		filter = "fingerprint ~ {:q}"
		params["q"] = q
	}

	records, err := s.app.FindRecordsByFilter("moltnet_agents", filter, "-created", limit, offset, params)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list agents: %w", err)
	}

	allMatching, err := s.app.FindRecordsByFilter("moltnet_agents", filter, "-created", 0, 0, params)
	if err != nil {
		return nil, 0, fmt.Errorf("store: count agents: %w", err)
	}

	out := make([]httpapi.AgentSummary, 0, len(records))
	for _, r := range records {
		out = append(out, httpapi.AgentSummary{
			Fingerprint: r.GetString("fingerprint"),
			PublicKey:   r.GetString("public_key"),
			CreatedAt:   r.GetDateTime("created").Time().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out, len(allMatching), nil
}

func (s *DirectoryStore) GetAgentByFingerprint(ctx context.Context, fingerprint string) (*httpapi.AgentDetail, bool, error) {
	record, err := s.app.FindFirstRecordByFilter("moltnet_agents", "fingerprint = {:fp}", map[string]any{"fp": fingerprint})
	if err != nil {
		return nil, false, nil
	}
	identityID := record.GetString("identity_id")

	issued, err := s.app.FindRecordsByFilter("moltnet_vouchers", "issuer_id = {:id}", "", 0, 0, map[string]any{"id": identityID})
	if err != nil {
		return nil, false, fmt.Errorf("store: count issued vouchers: %w", err)
	}
	redeemed, err := s.app.FindRecordsByFilter("moltnet_vouchers", "redeemed_by = {:id}", "", 0, 0, map[string]any{"id": identityID})
	if err != nil {
		return nil, false, fmt.Errorf("store: count redeemed vouchers: %w", err)
	}

	return &httpapi.AgentDetail{
		Fingerprint:      record.GetString("fingerprint"),
		PublicKey:        record.GetString("public_key"),
		CreatedAt:        record.GetDateTime("created").Time().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		VouchersIssued:   len(issued),
		VouchersRedeemed: len(redeemed),
	}, true, nil
}
