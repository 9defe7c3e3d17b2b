package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/signing"
)

// SigningRequestStore implements signing.Store against the
// moltnet_signing_requests collection.
type SigningRequestStore struct {
	app core.App
}

func NewSigningRequestStore(app core.App) *SigningRequestStore {
	return &SigningRequestStore{app: app}
}

func (s *SigningRequestStore) Insert(ctx context.Context, req *signing.SigningRequest) error {
	collection, err := s.app.FindCollectionByNameOrId("moltnet_signing_requests")
	if err != nil {
		return fmt.Errorf("store: moltnet_signing_requests collection not found: %w", err)
	}
	record := core.NewRecord(collection)
	record.Id = req.ID
	record.Set("agent_id", req.AgentID)
	record.Set("message", req.Message)
	record.Set("nonce", req.Nonce)
	record.Set("workflow_id", req.WorkflowID)
	record.Set("status", string(req.Status))
	record.Set("expires_at", req.ExpiresAt)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("store: save signing request: %w", err)
	}
	return nil
}

func (s *SigningRequestStore) Get(ctx context.Context, id string) (*signing.SigningRequest, error) {
	record, err := s.app.FindRecordById("moltnet_signing_requests", id)
	if err != nil {
		return nil, nil
	}
	return recordToSigningRequest(record), nil
}

func (s *SigningRequestStore) List(ctx context.Context, agentID string, statuses []signing.Status) ([]*signing.SigningRequest, error) {
	filter := "agent_id = {:aid}"
	params := map[string]any{"aid": agentID}
	for i, st := range statuses {
		key := fmt.Sprintf("s%d", i)
		if i == 0 {
			filter += " && ("
		} else {
			filter += " || "
		}
		filter += fmt.Sprintf("status = {:%s}", key)
		params[key] = string(st)
	}
	if len(statuses) > 0 {
		filter += ")"
	}

	records, err := s.app.FindRecordsByFilter("moltnet_signing_requests", filter, "-created", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("store: list signing requests: %w", err)
	}
	out := make([]*signing.SigningRequest, 0, len(records))
	for _, r := range records {
		out = append(out, recordToSigningRequest(r))
	}
	return out, nil
}

func (s *SigningRequestStore) ListByStatus(ctx context.Context, statuses []signing.Status) ([]*signing.SigningRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	filter := ""
	params := map[string]any{}
	for i, st := range statuses {
		if i > 0 {
			filter += " || "
		}
		key := fmt.Sprintf("s%d", i)
		filter += fmt.Sprintf("status = {:%s}", key)
		params[key] = string(st)
	}
	records, err := s.app.FindRecordsByFilter("moltnet_signing_requests", filter, "", 0, 0, params)
	if err != nil {
		return nil, fmt.Errorf("store: list signing requests by status: %w", err)
	}
	out := make([]*signing.SigningRequest, 0, len(records))
	for _, r := range records {
		out = append(out, recordToSigningRequest(r))
	}
	return out, nil
}

// Complete atomically transitions a pending row to completed: it re-checks
// the status after fetch and saves only if still pending, so a duplicate
// delivery (at-most-once per spec.md §4.5) is a no-op that returns the
// already-terminal row unchanged.
func (s *SigningRequestStore) Complete(ctx context.Context, id string, signature string, valid bool, now time.Time) (*signing.SigningRequest, error) {
	record, err := s.app.FindRecordById("moltnet_signing_requests", id)
	if err != nil {
		return nil, fmt.Errorf("store: find signing request: %w", err)
	}
	if record.GetString("status") != string(signing.StatusPending) {
		return recordToSigningRequest(record), nil
	}
	record.Set("status", string(signing.StatusCompleted))
	record.Set("signature", signature)
	record.Set("valid", valid)
	record.Set("completed_at", now)
	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("store: complete signing request: %w", err)
	}
	return recordToSigningRequest(record), nil
}

func (s *SigningRequestStore) Expire(ctx context.Context, id string, now time.Time) (*signing.SigningRequest, error) {
	record, err := s.app.FindRecordById("moltnet_signing_requests", id)
	if err != nil {
		return nil, fmt.Errorf("store: find signing request: %w", err)
	}
	if record.GetString("status") != string(signing.StatusPending) {
		return recordToSigningRequest(record), nil
	}
	record.Set("status", string(signing.StatusExpired))
	if err := s.app.Save(record); err != nil {
		return nil, fmt.Errorf("store: expire signing request: %w", err)
	}
	return recordToSigningRequest(record), nil
}

func (s *SigningRequestStore) SetWorkflowID(ctx context.Context, id, workflowID string) error {
	record, err := s.app.FindRecordById("moltnet_signing_requests", id)
	if err != nil {
		return fmt.Errorf("store: find signing request: %w", err)
	}
	record.Set("workflow_id", workflowID)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("store: set workflow id: %w", err)
	}
	return nil
}

func recordToSigningRequest(r *core.Record) *signing.SigningRequest {
	req := &signing.SigningRequest{
		ID:         r.Id,
		AgentID:    r.GetString("agent_id"),
		Message:    r.GetString("message"),
		Nonce:      r.GetString("nonce"),
		WorkflowID: r.GetString("workflow_id"),
		Status:     signing.Status(r.GetString("status")),
		CreatedAt:  r.GetDateTime("created").Time(),
		ExpiresAt:  r.GetDateTime("expires_at").Time(),
	}
	if sig := r.GetString("signature"); sig != "" {
		req.Signature = &sig
	}
	if req.Status == signing.StatusCompleted {
		valid := r.GetBool("valid")
		req.Valid = &valid
		completedAt := r.GetDateTime("completed_at").Time()
		req.CompletedAt = &completedAt
	}
	return req
}
