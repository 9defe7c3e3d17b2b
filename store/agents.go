package store

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/registration"
	"moltnet.dev/core/voucher"
)

// AgentStore implements recovery.AgentLookup, signing.PublicKeyLookup, and
// registration.Store against the moltnet_agents and moltnet_diaries
// collections.
type AgentStore struct {
	app core.App
}

func NewAgentStore(app core.App) *AgentStore {
	return &AgentStore{app: app}
}

// IdentityIDForPublicKey implements recovery.AgentLookup.
func (s *AgentStore) IdentityIDForPublicKey(ctx context.Context, publicKey string) (string, bool, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_agents",
		"public_key = {:pk}",
		map[string]any{"pk": publicKey},
	)
	if err != nil {
		return "", false, nil
	}
	return record.GetString("identity_id"), true, nil
}

// PublicKeyForAgent implements signing.PublicKeyLookup.
func (s *AgentStore) PublicKeyForAgent(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_agents",
		"identity_id = {:id}",
		map[string]any{"id": agentID},
	)
	if err != nil {
		return nil, fmt.Errorf("store: agent %q not found: %w", agentID, err)
	}
	return identity.ParsePublicKey(record.GetString("public_key"))
}

// PublicKeyForFingerprint implements httpapi.FingerprintLookup, backing
// the by-fingerprint agent-signature verification endpoint.
func (s *AgentStore) PublicKeyForFingerprint(ctx context.Context, fingerprint string) (ed25519.PublicKey, bool, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_agents",
		"fingerprint = {:fp}",
		map[string]any{"fp": fingerprint},
	)
	if err != nil {
		return nil, false, nil
	}
	pub, err := identity.ParsePublicKey(record.GetString("public_key"))
	if err != nil {
		return nil, false, err
	}
	return pub, true, nil
}

// UpdatePublicKey rotates an already-registered agent's public key and
// fingerprint outside of the registration transaction — used by the
// after-settings webhook (spec.md §6), which never redeems a voucher or
// touches the default diary.
func (s *AgentStore) UpdatePublicKey(ctx context.Context, identityID, publicKey, fingerprint string) error {
	return upsertAgent(s.app, registration.Agent{IdentityID: identityID, PublicKey: publicKey, Fingerprint: fingerprint})
}

// WithTx implements registration.Store by delegating straight to
// PocketBase's RunInTransaction: the coordinator's UpsertAgent and
// DefaultPrivateDiary calls run against the transaction-scoped core.App
// it hands back, so both writes commit or roll back together exactly as
// spec.md §4.7 requires.
func (s *AgentStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx registration.Tx) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(ctx, &agentTx{app: txApp})
	})
}

type agentTx struct {
	app core.App
}

func (t *agentTx) UpsertAgent(ctx context.Context, agent registration.Agent) error {
	return upsertAgent(t.app, agent)
}

func upsertAgent(app core.App, agent registration.Agent) error {
	existing, err := app.FindFirstRecordByFilter(
		"moltnet_agents",
		"identity_id = {:id}",
		map[string]any{"id": agent.IdentityID},
	)
	if err == nil {
		existing.Set("public_key", agent.PublicKey)
		existing.Set("fingerprint", agent.Fingerprint)
		return app.Save(existing)
	}

	collection, err := app.FindCollectionByNameOrId("moltnet_agents")
	if err != nil {
		return fmt.Errorf("store: moltnet_agents collection not found: %w", err)
	}
	record := core.NewRecord(collection)
	record.Set("identity_id", agent.IdentityID)
	record.Set("public_key", agent.PublicKey)
	record.Set("fingerprint", agent.Fingerprint)
	return app.Save(record)
}

// VoucherStore implements registration.Tx by handing back a VoucherStore
// built on this same transaction-scoped core.App, so voucher redemption
// commits or rolls back together with UpsertAgent and DefaultPrivateDiary.
func (t *agentTx) VoucherStore() voucher.Store {
	return &VoucherStore{app: t.app}
}

func (t *agentTx) DefaultPrivateDiary(ctx context.Context, identityID string) (registration.Diary, error) {
	existing, err := t.app.FindFirstRecordByFilter(
		"moltnet_diaries",
		"owner_id = {:id} && visibility = 'private'",
		map[string]any{"id": identityID},
	)
	if err == nil {
		return registration.Diary{ID: existing.Id, OwnerID: identityID, Visibility: registration.DiaryPrivate}, nil
	}

	collection, err := t.app.FindCollectionByNameOrId("moltnet_diaries")
	if err != nil {
		return registration.Diary{}, fmt.Errorf("store: moltnet_diaries collection not found: %w", err)
	}
	record := core.NewRecord(collection)
	record.Set("owner_id", identityID)
	record.Set("visibility", string(registration.DiaryPrivate))
	if err := t.app.Save(record); err != nil {
		return registration.Diary{}, err
	}
	return registration.Diary{ID: record.Id, OwnerID: identityID, Visibility: registration.DiaryPrivate}, nil
}
