// Package signing implements the asynchronous signing-request workflow
// (spec.md §4.5), MoltNet's hardest subsystem: a durable per-request state
// machine (pending -> completed | expired) where the server mints a nonce,
// the agent signs the canonical envelope locally, and a crash-safe
// workflow verifies the signature without ever holding the private key.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/problem"
)

// Status is one of the three SigningRequest states from spec.md §3. It is
// monotone: pending -> completed or pending -> expired, never backward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

const (
	// MinMessageLen and MaxMessageLen bound the signable message per
	// spec.md §3: "1 <= len <= 100000 UTF-8 chars".
	MinMessageLen = 1
	MaxMessageLen = 100000

	// DefaultTimeout is the request's lifetime absent an override.
	DefaultTimeout = 300 * time.Second

	// NonceBytes gives >= 128 random bits, hex-encoded.
	NonceBytes = 16

	// MaxSignatureLength bounds the base64 signature accepted on submit
	// (an Ed25519 signature is 64 raw bytes; base64 inflates by ~4/3 plus
	// padding, so this generously bounds against abuse without rejecting
	// any valid signature).
	MaxSignatureLength = 256

	// pollInterval and pollDeadline implement the submit-side latency
	// optimization in spec.md §4.5: poll the row for up to 5s at 100ms
	// intervals before returning whatever state is found.
	pollInterval = 100 * time.Millisecond
	pollDeadline = 5 * time.Second
)

// SigningRequest mirrors the data model in spec.md §3.
type SigningRequest struct {
	ID          string
	AgentID     string
	Message     string
	Nonce       string
	WorkflowID  string
	Status      Status
	Signature   *string
	Valid       *bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time
}

// SigningInput is the exact base64-encoded canonical signing bytes the
// client must sign locally, so the server verifies precisely what it
// asked for.
func (r *SigningRequest) SigningInput() string {
	return base64.StdEncoding.EncodeToString(identity.CanonicalSigningBytes(r.Message, r.Nonce))
}

// Store is the external durable persistence backend for signing requests.
type Store interface {
	Insert(ctx context.Context, r *SigningRequest) error
	Get(ctx context.Context, id string) (*SigningRequest, error)
	List(ctx context.Context, agentID string, statuses []Status) ([]*SigningRequest, error)
	// ListByStatus lists across all agents — used only by workflow
	// rehydration after a process restart, never by an agent-facing call.
	ListByStatus(ctx context.Context, statuses []Status) ([]*SigningRequest, error)
	// Complete atomically transitions a pending row to completed, setting
	// signature/valid/completedAt, iff it is still pending. Returns the
	// updated row, or the current row unchanged if it had already left
	// pending (idempotence: a second delivery is a no-op).
	Complete(ctx context.Context, id string, signature string, valid bool, now time.Time) (*SigningRequest, error)
	// Expire atomically transitions a pending row to expired iff it is
	// still pending; same idempotence contract as Complete.
	Expire(ctx context.Context, id string, now time.Time) (*SigningRequest, error)
	// SetWorkflowID attaches a (possibly new) workflow handle to an
	// existing row, used only by Rehydrate after a process restart mints
	// fresh in-process workflow handles for rows that were already
	// persisted under their original handle.
	SetWorkflowID(ctx context.Context, id, workflowID string) error
}

// PublicKeyLookup resolves an agent's registered public key, used by the
// workflow body to verify a delivered signature without trusting the
// caller's own claim of which key produced it.
type PublicKeyLookup interface {
	PublicKeyForAgent(ctx context.Context, agentID string) (ed25519.PublicKey, error)
}

// WorkflowEngine is the durable-execution abstraction from spec.md's
// design notes (§9): "the durable signing workflow become[s] either
// goroutine-like tasks with a deadline-bound wait on a named channel, or
// state-rehydrated workflows backed by a durable execution engine." C5's
// contract only depends on these three operations, so a production
// deployment can swap in Temporal/Cadence-style durable execution without
// touching the Service.
type WorkflowEngine interface {
	// Start launches the workflow for a newly created request and returns
	// its stable workflowId handle.
	Start(ctx context.Context, requestID string, deadline time.Time) (workflowID string, err error)
	// Deliver places a signature on the named request's "signature" slot.
	// Delivery is at-most-once per slot: a duplicate delivery must not
	// re-drive verification.
	Deliver(ctx context.Context, workflowID, signature string) error
	// Rehydrate restarts in-flight workflows after a process restart,
	// skipping any request whose Store row is already terminal.
	Rehydrate(ctx context.Context) error
}

// Service implements C5's create/list/get/submit operations.
type Service struct {
	store    Store
	workflow WorkflowEngine
	now      func() time.Time
}

func NewService(store Store, workflow WorkflowEngine) *Service {
	return &Service{store: store, workflow: workflow, now: time.Now}
}

// Create validates the message, mints a nonce, inserts a pending row, and
// starts its durable workflow.
func (s *Service) Create(ctx context.Context, agentID, message string) (*SigningRequest, error) {
	n := utf8.RuneCountInString(message)
	if n < MinMessageLen || n > MaxMessageLen {
		return nil, problem.New(problem.KindValidation, fmt.Sprintf("message must be between %d and %d UTF-8 characters", MinMessageLen, MaxMessageLen))
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := &SigningRequest{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Message:   message,
		Nonce:     nonce,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTimeout),
	}

	// The workflow engine's Start does not require the row to already
	// exist, so it runs before Insert: this way WorkflowID is already
	// populated on the row as it's first written, rather than needing a
	// second write to attach it afterward.
	workflowID, err := s.workflow.Start(ctx, req.ID, req.ExpiresAt)
	if err != nil {
		return nil, err
	}
	req.WorkflowID = workflowID

	if err := s.store.Insert(ctx, req); err != nil {
		return nil, err
	}

	return req, nil
}

func randomNonce() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("signing: generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// List returns the caller's own requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, agentID string, statuses []Status) ([]*SigningRequest, error) {
	return s.store.List(ctx, agentID, statuses)
}

// Get returns a single request, or NotFound if it doesn't exist or isn't
// owned by the caller — the two cases are indistinguishable from outside
// per spec.md §4.5 and §7.
func (s *Service) Get(ctx context.Context, id, agentID string) (*SigningRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil || req.AgentID != agentID {
		return nil, problem.New(problem.KindNotFound, "signing request not found")
	}
	return req, nil
}

// ErrNoWorkflow marks a row whose workflow was never initialized — treated
// as NotFound at the edge per spec.md §4.5 step 4.
var ErrNoWorkflow = errors.New("signing: workflow not initialized")

// Submit delivers a signature for verification, following the ordered
// preconditions in spec.md §4.5, then polls for up to 5s for the terminal
// state before returning whatever is found (still-pending on timeout is
// not success — callers must keep polling Get).
func (s *Service) Submit(ctx context.Context, id, agentID, signature string) (*SigningRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil || req.AgentID != agentID {
		return nil, problem.New(problem.KindNotFound, "signing request not found")
	}

	now := s.now()
	if req.Status == StatusExpired || req.ExpiresAt.Before(now) || req.ExpiresAt.Equal(now) {
		return nil, problem.New(problem.KindExpired, "signing request has expired")
	}
	if req.Status == StatusCompleted {
		return nil, problem.New(problem.KindAlreadyCompleted, "signing request already completed")
	}
	if req.WorkflowID == "" {
		return nil, problem.New(problem.KindNotFound, "signing request not found")
	}
	if len(signature) > MaxSignatureLength {
		return nil, problem.New(problem.KindValidation, "signature exceeds maximum length")
	}

	if err := s.workflow.Deliver(ctx, req.WorkflowID, signature); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(pollDeadline)
	for {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, problem.New(problem.KindNotFound, "signing request not found")
		}
		if cur.Status != StatusPending {
			return cur, nil
		}
		if time.Now().After(deadline) {
			return cur, nil // still pending: caller must poll Get separately
		}
		select {
		case <-ctx.Done():
			return cur, nil
		case <-time.After(pollInterval):
		}
	}
}

// RunWorkflowBody executes the workflow contract from spec.md §4.5: await
// either a delivery or the expiry deadline, verify against the owning
// agent's registered public key, and perform exactly one atomic terminal
// write. It is exported so a WorkflowEngine implementation (e.g. the
// in-process engine in this package, or a durable-execution adapter) can
// reuse the verification logic without duplicating it.
func RunWorkflowBody(ctx context.Context, store Store, keys PublicKeyLookup, requestID, signature string, now time.Time) (*SigningRequest, error) {
	req, err := store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Status != StatusPending {
		return req, nil // already terminal: idempotent no-op
	}

	pub, err := keys.PublicKeyForAgent(ctx, req.AgentID)
	if err != nil {
		return store.Complete(ctx, requestID, signature, false, now)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	valid := false
	if err == nil {
		valid = identity.Verify(pub, req.Message, req.Nonce, sigBytes)
	}

	return store.Complete(ctx, requestID, signature, valid, now)
}

// ExpireWorkflowBody implements the expiry branch of spec.md §4.5 step 3.
func ExpireWorkflowBody(ctx context.Context, store Store, requestID string, now time.Time) (*SigningRequest, error) {
	return store.Expire(ctx, requestID, now)
}
