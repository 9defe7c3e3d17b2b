package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/problem"
)

type memStore struct {
	mu   sync.Mutex
	rows map[string]*SigningRequest
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]*SigningRequest)} }

func (s *memStore) Insert(ctx context.Context, r *SigningRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rows[r.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) List(ctx context.Context, agentID string, statuses []Status) ([]*SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SigningRequest
	for _, r := range s.rows {
		if r.AgentID != agentID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) ListByStatus(ctx context.Context, statuses []Status) ([]*SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*SigningRequest
	for _, r := range s.rows {
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func containsStatus(statuses []Status, s Status) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func (s *memStore) Complete(ctx context.Context, id string, signature string, valid bool, now time.Time) (*SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	if r.Status != StatusPending {
		cp := *r
		return &cp, nil // idempotent: already terminal
	}
	r.Status = StatusCompleted
	sig := signature
	r.Signature = &sig
	v := valid
	r.Valid = &v
	t := now
	r.CompletedAt = &t
	cp := *r
	return &cp, nil
}

func (s *memStore) Expire(ctx context.Context, id string, now time.Time) (*SigningRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	if r.Status != StatusPending {
		cp := *r
		return &cp, nil
	}
	r.Status = StatusExpired
	cp := *r
	return &cp, nil
}

func (s *memStore) SetWorkflowID(ctx context.Context, id, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil
	}
	r.WorkflowID = workflowID
	return nil
}

type memKeys struct {
	mu   sync.Mutex
	keys map[string]ed25519.PublicKey
}

func newMemKeys() *memKeys { return &memKeys{keys: make(map[string]ed25519.PublicKey)} }

func (k *memKeys) set(agentID string, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[agentID] = pub
}

func (k *memKeys) PublicKeyForAgent(ctx context.Context, agentID string) (ed25519.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keys[agentID], nil
}

func TestHappyPathSigning(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys.set("agentA", pub)

	req, err := svc.Create(ctx, "agentA", "Sign this e2e message")
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)
	require.GreaterOrEqual(t, len(req.Nonce), 32) // >=16 bytes hex-encoded

	sigBytes := identity.Sign(priv, "Sign this e2e message", req.Nonce)
	sig := base64.StdEncoding.EncodeToString(sigBytes)

	done, err := svc.Submit(ctx, req.ID, "agentA", sig)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Valid)
	require.True(t, *done.Valid)
	require.Equal(t, sig, *done.Signature)
}

func TestWrongKeySubmitCompletesWithValidFalse(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys.set("agentA", pub)

	req, err := svc.Create(ctx, "agentA", "Sign this e2e message")
	require.NoError(t, err)

	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wrongSig := base64.StdEncoding.EncodeToString(identity.Sign(otherPriv, "Sign this e2e message", req.Nonce))

	done, err := svc.Submit(ctx, req.ID, "agentA", wrongSig)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.False(t, *done.Valid)
}

func TestSubmitAfterCompletedIsAlreadyCompleted(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys.set("agentA", pub)

	req, err := svc.Create(ctx, "agentA", "hello")
	require.NoError(t, err)
	sig := base64.StdEncoding.EncodeToString(identity.Sign(priv, "hello", req.Nonce))

	_, err = svc.Submit(ctx, req.ID, "agentA", sig)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, req.ID, "agentA", sig)
	require.True(t, problem.Is(err, problem.KindAlreadyCompleted))
}

func TestGetIsNotFoundForWrongOwnerOrMissing(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	req, err := svc.Create(ctx, "agentA", "hello")
	require.NoError(t, err)

	_, err = svc.Get(ctx, req.ID, "agentB")
	require.True(t, problem.Is(err, problem.KindNotFound))

	_, err = svc.Get(ctx, "does-not-exist", "agentA")
	require.True(t, problem.Is(err, problem.KindNotFound))
}

func TestMessageLengthValidation(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	_, err := svc.Create(ctx, "agentA", "")
	require.True(t, problem.Is(err, problem.KindValidation))
}

func TestExpiryTransitionsToExpired(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	req, err := svc.Create(ctx, "agentA", "hello")
	require.NoError(t, err)

	// Force an immediate expiry by running the workflow body directly
	// rather than waiting out DefaultTimeout in a unit test.
	_, err = ExpireWorkflowBody(ctx, store, req.ID, time.Now())
	require.NoError(t, err)

	got, err := svc.Get(ctx, req.ID, "agentA")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, got.Status)

	// A late submit against an expired row must fail with Expired.
	_, err = svc.Submit(ctx, req.ID, "agentA", "deadbeef")
	require.True(t, problem.Is(err, problem.KindExpired))
}

func TestUnicodePayloadSignsAndVerifies(t *testing.T) {
	store := newMemStore()
	keys := newMemKeys()
	wf := NewInProcessWorkflowEngine(store, keys)
	svc := NewService(store, wf)
	ctx := context.Background()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys.set("agentA", pub)

	msg := "sign this — with a 🔑"
	req, err := svc.Create(ctx, "agentA", msg)
	require.NoError(t, err)

	sig := base64.StdEncoding.EncodeToString(identity.Sign(priv, msg, req.Nonce))
	done, err := svc.Submit(ctx, req.ID, "agentA", sig)
	require.NoError(t, err)
	require.True(t, *done.Valid)
}
