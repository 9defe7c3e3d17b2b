// Package registration implements C7, the registration coordinator:
// redeeming a voucher and admitting a new agent to the network inside a
// single database transaction (spec.md §4.7).
package registration

import (
	"context"
	"fmt"

	"moltnet.dev/core/identity"
	"moltnet.dev/core/permission"
	"moltnet.dev/core/problem"
	"moltnet.dev/core/voucher"
)

// DiaryVisibility mirrors the newer diaryId + diary.visibility shape that
// spec.md §9 says the public-feed scenarios assume, over the legacy
// ownerId + visibility shape also present in the source.
type DiaryVisibility string

const (
	DiaryPrivate DiaryVisibility = "private"
	DiaryPublic  DiaryVisibility = "public"
)

// Agent is the upserted record for step 4 of the coordinator.
type Agent struct {
	IdentityID  string
	PublicKey   string
	Fingerprint string
}

// Diary is the owner's default private diary created or fetched in step 5.
type Diary struct {
	ID         string
	OwnerID    string
	Visibility DiaryVisibility
}

// Store is the transactional surface the coordinator needs from the
// relational backend. WithTx runs fn against a Tx scoped to a single
// transaction, committing iff fn returns nil and rolling back otherwise —
// the same shape as voucher.Store.WithTx, chosen because it matches the
// callback-based transaction API the backing store (PocketBase) actually
// exposes, rather than a manual begin/commit handle.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx groups the relational operations that must commit or roll back
// together (spec.md §4.7: "all six steps commit or none do").
type Tx interface {
	UpsertAgent(ctx context.Context, agent Agent) error
	DefaultPrivateDiary(ctx context.Context, identityID string) (Diary, error)
	// VoucherStore returns this transaction's own voucher.Store view, so
	// Register can redeem the voucher (step 3) through
	// voucher.Engine.RedeemTx against the same underlying transaction as
	// UpsertAgent and DefaultPrivateDiary (step 4), making steps 3-4
	// atomic per spec.md §4.7.
	VoucherStore() voucher.Store
}

// Coordinator wires C7's dependencies: a voucher engine (C4), a relational
// Store, and a permission.Checker (C3) for the relationship writes that
// happen last per spec.md §9's open-question resolution.
type Coordinator struct {
	vouchers *voucher.Engine
	store    Store
	perms    *permission.Checker
}

func NewCoordinator(vouchers *voucher.Engine, store Store, perms *permission.Checker) *Coordinator {
	return &Coordinator{vouchers: vouchers, store: store, perms: perms}
}

// Request is the input to Register.
type Request struct {
	PublicKey   string
	VoucherCode string
	IdentityID  string // the identityId the voucher is being redeemed for
}

// Result is the successful outcome of Register.
type Result struct {
	Agent Agent
	Diary Diary
}

// Register runs C7's six steps. Steps 1-4 all run inside the relational
// Store's single transaction: the voucher redemption (step 3) goes
// through voucher.Engine.RedeemTx against that same transaction's own
// voucher.Store view, so a failure in UpsertAgent or DefaultPrivateDiary
// (step 4) rolls the redemption back with it — spec.md §4.7's "all six
// steps commit or none do" has no carve-out for step 3. Steps 5-6 run
// last and are treated as replayable: if they fail after the DB
// transaction has committed and the voucher has been redeemed, the
// relationship writes can be retried without re-deriving anything, since
// the voucher row — not the relationship tuples — is the single source
// of truth for admission (spec.md §4.7, §9's documented carve-out, which
// covers only steps 5-6: "if the store's transactional API does not
// extend to the relationship backend, steps 5-6 run last").
func (c *Coordinator) Register(ctx context.Context, req Request) (*Result, error) {
	pub, err := identity.ParsePublicKey(req.PublicKey)
	if err != nil {
		return nil, problem.Wrap(problem.KindInvalidPublicKey, "public key is malformed", err)
	}
	fingerprint := identity.DeriveFingerprint(pub)

	agent := Agent{IdentityID: req.IdentityID, PublicKey: identity.FormatPublicKey(pub), Fingerprint: fingerprint}
	var diary Diary
	err = c.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := c.vouchers.RedeemTx(ctx, tx.VoucherStore(), req.VoucherCode, req.IdentityID); err != nil {
			return err // already a *problem.Error (KindVoucherInvalid)
		}
		if err := tx.UpsertAgent(ctx, agent); err != nil {
			return fmt.Errorf("upsert agent: %w", err)
		}
		d, err := tx.DefaultPrivateDiary(ctx, req.IdentityID)
		if err != nil {
			return fmt.Errorf("default diary: %w", err)
		}
		diary = d
		return nil
	})
	if err != nil {
		if pe, ok := err.(*problem.Error); ok {
			return nil, pe
		}
		return nil, fmt.Errorf("registration: %w", err)
	}

	// Steps 5-6: relationship writes, run after the DB side is durable.
	// The voucher is already redeemed and the DB rows already committed,
	// so a failure here leaves the agent admitted but under-permissioned
	// rather than rolling back a committed transaction. The two writes
	// (permission.Checker.GrantDiaryOwner/RegisterAgent) are idempotent
	// and can be replayed on their own; calling Register again does not
	// replay them, since its voucher redemption then fails with
	// KindVoucherInvalid.
	if err := c.perms.GrantDiaryOwner(ctx, diary.ID, req.IdentityID); err != nil {
		return nil, fmt.Errorf("registration: grant diary ownership: %w", err)
	}
	if err := c.perms.RegisterAgent(ctx, req.IdentityID); err != nil {
		return nil, fmt.Errorf("registration: write agent self relation: %w", err)
	}

	return &Result{Agent: agent, Diary: diary}, nil
}
