package signing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InProcessWorkflowEngine is the default WorkflowEngine: one goroutine per
// in-flight request, selecting on a single-slot delivery channel or an
// expiry timer. This is the goroutine-with-deadline-bound-channel shape
// spec.md §9 calls out as an acceptable durable-execution substitute,
// grounded on the teacher's in-memory TTL-store pattern (api/pow.go's
// background cleanup goroutine) generalized from a sweep loop to a
// per-entity timer.
//
// It is "durable" only within a process's lifetime; Rehydrate restarts
// timers for any row still pending after a process restart, matching
// spec.md §4.5's crash-safety requirement when the Store itself survives
// restarts (e.g. a real database) even though this particular engine does
// not persist in-flight goroutines across a restart.
type InProcessWorkflowEngine struct {
	store Store
	keys  PublicKeyLookup
	now   func() time.Time

	mu      sync.Mutex
	slots   map[string]chan string // workflowID -> at-most-once delivery slot
	started map[string]bool        // workflowID -> delivered-or-expired already
}

func NewInProcessWorkflowEngine(store Store, keys PublicKeyLookup) *InProcessWorkflowEngine {
	return &InProcessWorkflowEngine{
		store:   store,
		keys:    keys,
		now:     time.Now,
		slots:   make(map[string]chan string),
		started: make(map[string]bool),
	}
}

// Start launches the workflow goroutine for a request.
func (e *InProcessWorkflowEngine) Start(ctx context.Context, requestID string, deadline time.Time) (string, error) {
	workflowID := uuid.NewString()

	slot := make(chan string, 1) // buffered: Deliver never blocks, at-most-once because run receives from it once
	e.mu.Lock()
	e.slots[workflowID] = slot
	e.mu.Unlock()

	go e.run(workflowID, requestID, deadline, slot)

	return workflowID, nil
}

// Deliver places signature on the workflow's inbound slot. A duplicate
// delivery after the first is dropped silently (at-most-once semantics):
// the channel is consumed exactly once by run().
func (e *InProcessWorkflowEngine) Deliver(ctx context.Context, workflowID, signature string) error {
	e.mu.Lock()
	slot, ok := e.slots[workflowID]
	e.mu.Unlock()
	if !ok {
		return nil // workflow already finished and cleaned up: no-op
	}
	select {
	case slot <- signature:
	default:
		// slot already has a pending delivery; a duplicate/racing submit
		// must not re-drive verification.
	}
	return nil
}

// run is the workflow body: wait for delivery or expiry, verify, write
// exactly one terminal state.
func (e *InProcessWorkflowEngine) run(workflowID, requestID string, deadline time.Time, slot chan string) {
	ctx := context.Background()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case signature := <-slot:
		RunWorkflowBody(ctx, e.store, e.keys, requestID, signature, e.now())
	case <-timer.C:
		ExpireWorkflowBody(ctx, e.store, requestID, e.now())
	}

	e.mu.Lock()
	delete(e.slots, workflowID)
	e.started[workflowID] = true
	e.mu.Unlock()
}

// Rehydrate restarts timers for every request still pending in the store.
// Already-terminal rows are skipped, matching spec.md §4.5 step 5. Since
// the original workflowID's in-memory goroutine is gone after a restart,
// rehydration mints a fresh in-process handle bound to the same request
// row; the Store row (not the workflowID) remains the source of truth an
// agent polls against.
func (e *InProcessWorkflowEngine) Rehydrate(ctx context.Context) error {
	pending, err := e.store.ListByStatus(ctx, []Status{StatusPending})
	if err != nil {
		return err
	}
	for _, req := range pending {
		if req.Status != StatusPending {
			continue
		}
		workflowID, err := e.Start(ctx, req.ID, req.ExpiresAt)
		if err != nil {
			return err
		}
		if err := e.store.SetWorkflowID(ctx, req.ID, workflowID); err != nil {
			return err
		}
	}
	return nil
}
