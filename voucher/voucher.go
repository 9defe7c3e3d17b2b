// Package voucher implements the web-of-trust admission engine (spec.md
// §3, §4.4): single-use, 24h-expiring vouchers capped at 5 active per
// issuer, redeemed atomically by a single winner under concurrent
// redemption attempts.
package voucher

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"moltnet.dev/core/problem"
)

// DefaultTTL is the voucher lifetime from issuance: 24 hours.
const DefaultTTL = 24 * time.Hour

// MaxActivePerIssuer is the per-issuer cap on simultaneously active
// (unredeemed, unexpired) vouchers.
const MaxActivePerIssuer = 5

// CodeBytes is the byte length of a voucher code before hex-encoding,
// giving >= 256 bits of entropy as spec.md §3 requires.
const CodeBytes = 32

// DefaultTrustGraphLimit and MaxTrustGraphLimit bound the trust-graph
// export's page size, the same way feed.DefaultListLimit/MaxListLimit
// bound the public feed (SPEC_FULL.md §5: "a public, paginated view").
const (
	DefaultTrustGraphLimit = 50
	MaxTrustGraphLimit     = 200
)

// Voucher mirrors the data model in spec.md §3.
type Voucher struct {
	Code       string
	IssuerID   string
	RedeemedBy *string
	ExpiresAt  time.Time
	RedeemedAt *time.Time
}

// IsActive reports whether the voucher is currently redeemable.
func (v *Voucher) IsActive(now time.Time) bool {
	return v.RedeemedAt == nil && v.ExpiresAt.After(now)
}

// TrustEdge is a directed edge in the trust graph: issuer vouched for
// redeemer, identified by stable fingerprints (never mutable display
// names), at the moment of redemption. ID is the underlying voucher
// record's own id — never the voucher code — kept only to give the
// trust-graph cursor a stable tiebreaker; it is not part of the public
// wire body.
type TrustEdge struct {
	ID                  string
	IssuerFingerprint   string
	RedeemerFingerprint string
	RedeemedAt          time.Time
}

// TrustGraphMarker is the decoded form of a trust-graph cursor, passed to
// the store so it never has to know about the wire encoding — the same
// split feed.PageMarker makes for the public feed.
type TrustGraphMarker struct {
	RedeemedAt time.Time
	ID         string
}

type trustGraphCursor struct {
	RedeemedAt time.Time `json:"redeemedAt"`
	ID         string    `json:"id"`
}

func encodeTrustGraphCursor(c trustGraphCursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("voucher: encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeTrustGraphCursor(s string) (trustGraphCursor, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return trustGraphCursor{}, err
	}
	var c trustGraphCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return trustGraphCursor{}, err
	}
	return c, nil
}

// TrustGraphQuery is the input to Engine.TrustGraph.
type TrustGraphQuery struct {
	Cursor string // opaque, empty for first page
	Limit  int    // 0 means DefaultTrustGraphLimit
}

// TrustGraphResult is the output of Engine.TrustGraph.
type TrustGraphResult struct {
	Edges      []TrustEdge
	NextCursor string // empty when there is no further page
}

// Store is the external persistence backend for vouchers. Its methods map
// directly onto the atomicity contracts spec.md §4.4 demands:
//
//   - CountActiveByIssuer and Insert together must run inside a
//     serializable transaction in Issue (see Engine.Issue).
//   - Redeem must be a single atomic conditional update — "UPDATE ... SET
//     redeemedBy=?, redeemedAt=now WHERE code=? AND redeemedAt IS NULL AND
//     expiresAt > now RETURNING *" — so that under N concurrent callers on
//     the same code, exactly one observes a non-nil result.
type Store interface {
	CountActiveByIssuer(ctx context.Context, issuerID string, now time.Time) (int, error)
	Insert(ctx context.Context, v *Voucher) error
	// Redeem atomically transitions the voucher with the given code to
	// redeemed by redeemerID, iff it is currently active. It returns
	// (nil, nil) — not an error — for unknown/expired/already-redeemed
	// codes, matching the spec's anti-enumeration requirement that
	// callers cannot distinguish those three cases.
	Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*Voucher, error)
	ListActiveByIssuer(ctx context.Context, issuerID string, now time.Time) ([]*Voucher, error)
	// TrustGraph returns up to limit redeemed-voucher edges ordered
	// redeemedAt DESC, id DESC, strictly after the given marker (nil for
	// the first page). Engine.TrustGraph passes its page size plus one —
	// the same over-fetch-by-one pagination shape as feed.Store.ListPublic.
	TrustGraph(ctx context.Context, after *TrustGraphMarker, limit int) ([]TrustEdge, error)
	// WithTx runs fn inside a serializable transaction scoped to this
	// store; the Store passed to fn is transaction-scoped.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Engine implements C4's issue/redeem/list/trust-graph operations.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// randomCode returns a >=256-bit random hex-encoded voucher code.
func randomCode() (string, error) {
	b := make([]byte, CodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("voucher: generate code: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue mints a fresh voucher for issuerID inside a serializable
// transaction that first counts the issuer's active vouchers: if the
// count is already at MaxActivePerIssuer, it returns (nil, nil) rather
// than an error, per spec.md §4.4 ("if >= 5, return null").
func (e *Engine) Issue(ctx context.Context, issuerID string) (*Voucher, error) {
	var result *Voucher
	err := e.store.WithTx(ctx, func(ctx context.Context, tx Store) error {
		now := e.now()
		count, err := tx.CountActiveByIssuer(ctx, issuerID, now)
		if err != nil {
			return err
		}
		if count >= MaxActivePerIssuer {
			return nil // result stays nil: issuer at cap
		}
		code, err := randomCode()
		if err != nil {
			return err
		}
		v := &Voucher{
			Code:      code,
			IssuerID:  issuerID,
			ExpiresAt: now.Add(DefaultTTL),
		}
		if err := tx.Insert(ctx, v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ErrRedemptionFailed marks a generic voucher-redemption failure; callers
// at the edge must surface this uniformly as problem.KindVoucherInvalid,
// never distinguishing unknown/expired/already-redeemed (spec.md §4.4,
// §7).
var ErrRedemptionFailed = errors.New("voucher: redemption failed")

// Redeem attempts to atomically redeem code for redeemerID. It returns a
// *problem.Error with Kind VoucherInvalid — never a bare error — so the
// edge layer cannot leak which of {unknown, redeemed, expired} occurred.
func (e *Engine) Redeem(ctx context.Context, code, redeemerID string) (*Voucher, error) {
	return e.RedeemTx(ctx, e.store, code, redeemerID)
}

// RedeemTx behaves exactly like Redeem, but performs the conditional
// update against an externally-supplied Store rather than e.store. It
// exists so a caller whose own writes must commit atomically with the
// redemption — registration.Coordinator.Register, admitting an agent
// inside the same transaction it redeems the voucher in — can pass in a
// Store already scoped to that transaction, instead of redeeming through
// a separate transaction of its own (spec.md §4.7: "all six steps commit
// or none do").
func (e *Engine) RedeemTx(ctx context.Context, tx Store, code, redeemerID string) (*Voucher, error) {
	v, err := tx.Redeem(ctx, code, redeemerID, e.now())
	if err != nil {
		return nil, problem.Wrap(problem.KindVoucherInvalid, "voucher could not be redeemed", err)
	}
	if v == nil {
		return nil, problem.New(problem.KindVoucherInvalid, "voucher could not be redeemed")
	}
	return v, nil
}

// ListActiveByIssuer returns the issuer's own currently-active vouchers.
func (e *Engine) ListActiveByIssuer(ctx context.Context, issuerID string) ([]*Voucher, error) {
	return e.store.ListActiveByIssuer(ctx, issuerID, e.now())
}

// TrustGraph returns one page of redeemed-voucher edges, each a directed
// issuer-fingerprint -> redeemer-fingerprint edge, ordered redeemedAt
// DESC, id DESC — a public, paginated view per SPEC_FULL.md §5, mirroring
// feed.Gate.List's cursor/over-fetch/NextCursor shape.
func (e *Engine) TrustGraph(ctx context.Context, q TrustGraphQuery) (*TrustGraphResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultTrustGraphLimit
	}
	if limit > MaxTrustGraphLimit {
		limit = MaxTrustGraphLimit
	}

	var after *TrustGraphMarker
	if q.Cursor != "" {
		c, err := decodeTrustGraphCursor(q.Cursor)
		if err != nil {
			return nil, problem.Wrap(problem.KindInvalidCursor, "cursor is malformed", err)
		}
		after = &TrustGraphMarker{RedeemedAt: c.RedeemedAt, ID: c.ID}
	}

	rows, err := e.store.TrustGraph(ctx, after, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	result := &TrustGraphResult{Edges: rows}
	if hasMore {
		last := rows[len(rows)-1]
		nc, err := encodeTrustGraphCursor(trustGraphCursor{RedeemedAt: last.RedeemedAt, ID: last.ID})
		if err != nil {
			return nil, err
		}
		result.NextCursor = nc
	}
	return result, nil
}
