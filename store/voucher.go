package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/voucher"
)

// VoucherStore implements voucher.Store against the moltnet_vouchers
// collection. It is built on core.App rather than the concrete
// *pocketbase.PocketBase so that WithTx can hand the transaction-scoped
// core.App PocketBase passes into RunInTransaction's callback straight to
// a fresh VoucherStore.
type VoucherStore struct {
	app core.App
}

func NewVoucherStore(app core.App) *VoucherStore {
	return &VoucherStore{app: app}
}

func (s *VoucherStore) CountActiveByIssuer(ctx context.Context, issuerID string, now time.Time) (int, error) {
	records, err := s.app.FindRecordsByFilter(
		"moltnet_vouchers",
		"issuer_id = {:iss} && redeemed_at = '' && expires_at > {:now}",
		"", 0, 0,
		map[string]any{"iss": issuerID, "now": now},
	)
	if err != nil {
		return 0, fmt.Errorf("store: count active vouchers: %w", err)
	}
	return len(records), nil
}

func (s *VoucherStore) Insert(ctx context.Context, v *voucher.Voucher) error {
	collection, err := s.app.FindCollectionByNameOrId("moltnet_vouchers")
	if err != nil {
		return fmt.Errorf("store: moltnet_vouchers collection not found: %w", err)
	}
	record := core.NewRecord(collection)
	record.Set("code", v.Code)
	record.Set("issuer_id", v.IssuerID)
	record.Set("expires_at", v.ExpiresAt)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("store: save voucher: %w", err)
	}
	return nil
}

// Redeem performs the atomic conditional update spec.md §4.4 demands: it
// re-fetches the record by code and its guard conditions, then saves only
// if they still hold. PocketBase records are not a raw SQL UPDATE, so
// single-winner semantics here rely on the underlying SQLite row lock
// acquired by app.Save within a transaction scope (see WithTx) rather than
// a hand-rolled compare-and-swap.
func (s *VoucherStore) Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*voucher.Voucher, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_vouchers",
		"code = {:code} && redeemed_at = '' && expires_at > {:now}",
		map[string]any{"code": code, "now": now},
	)
	if err != nil {
		return nil, nil // unknown, expired, or already redeemed
	}

	record.Set("redeemed_by", redeemerID)
	record.Set("redeemed_at", now)
	if err := s.app.Save(record); err != nil {
		// A concurrent winner saved first and the collection's unique
		// constraint (or a stale-record conflict) rejects this save.
		return nil, nil
	}

	return recordToVoucher(record), nil
}

func (s *VoucherStore) ListActiveByIssuer(ctx context.Context, issuerID string, now time.Time) ([]*voucher.Voucher, error) {
	records, err := s.app.FindRecordsByFilter(
		"moltnet_vouchers",
		"issuer_id = {:iss} && redeemed_at = '' && expires_at > {:now}",
		"-created", 0, 0,
		map[string]any{"iss": issuerID, "now": now},
	)
	if err != nil {
		return nil, fmt.Errorf("store: list active vouchers: %w", err)
	}
	out := make([]*voucher.Voucher, 0, len(records))
	for _, r := range records {
		out = append(out, recordToVoucher(r))
	}
	return out, nil
}

// TrustGraph paginates the redeemed-voucher set ordered redeemed_at DESC,
// id DESC, the same keyset-pagination shape FeedStore.ListPublic uses for
// the public feed.
func (s *VoucherStore) TrustGraph(ctx context.Context, after *voucher.TrustGraphMarker, limit int) ([]voucher.TrustEdge, error) {
	filter := "redeemed_at != ''"
	params := map[string]any{}
	if after != nil {
		filter += " && (redeemed_at < {:afterTs} || (redeemed_at = {:afterTs} && id < {:afterId}))"
		params["afterTs"] = after.RedeemedAt
		params["afterId"] = after.ID
	}

	records, err := s.app.FindRecordsByFilter("moltnet_vouchers", filter, "-redeemed_at,-id", limit, 0, params)
	if err != nil {
		return nil, fmt.Errorf("store: list redeemed vouchers: %w", err)
	}

	edges := make([]voucher.TrustEdge, 0, len(records))
	for _, r := range records {
		issuerFP, err := fingerprintForIdentity(s.app, r.GetString("issuer_id"))
		if err != nil {
			continue
		}
		redeemerFP, err := fingerprintForIdentity(s.app, r.GetString("redeemed_by"))
		if err != nil {
			continue
		}
		edges = append(edges, voucher.TrustEdge{
			ID:                  r.Id,
			IssuerFingerprint:   issuerFP,
			RedeemerFingerprint: redeemerFP,
			RedeemedAt:          r.GetDateTime("redeemed_at").Time(),
		})
	}
	return edges, nil
}

// WithTx runs fn inside a PocketBase-managed SQLite transaction, giving
// Issue's count-then-insert a serializable scope per spec.md §4.4.
func (s *VoucherStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx voucher.Store) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(ctx, &VoucherStore{app: txApp})
	})
}

func recordToVoucher(r *core.Record) *voucher.Voucher {
	v := &voucher.Voucher{
		Code:      r.GetString("code"),
		IssuerID:  r.GetString("issuer_id"),
		ExpiresAt: r.GetDateTime("expires_at").Time(),
	}
	if redeemedBy := r.GetString("redeemed_by"); redeemedBy != "" {
		v.RedeemedBy = &redeemedBy
		t := r.GetDateTime("redeemed_at").Time()
		v.RedeemedAt = &t
	}
	return v
}

func fingerprintForIdentity(app core.App, identityID string) (string, error) {
	record, err := app.FindFirstRecordByFilter(
		"moltnet_agents",
		"identity_id = {:id}",
		map[string]any{"id": identityID},
	)
	if err != nil {
		return "", err
	}
	return record.GetString("fingerprint"), nil
}
