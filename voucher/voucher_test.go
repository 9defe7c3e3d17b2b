package voucher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moltnet.dev/core/problem"
)

// fakeStore is a mutex-guarded in-memory Store, grounding the same kind of
// lock-protected map the teacher uses for its ephemeral stores, but with a
// real compare-and-swap redeem to exercise the single-winner contract.
type fakeStore struct {
	mu       sync.Mutex
	byCode   map[string]*Voucher
}

func newFakeStore() *fakeStore {
	return &fakeStore{byCode: make(map[string]*Voucher)}
}

func (s *fakeStore) CountActiveByIssuer(ctx context.Context, issuerID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.byCode {
		if v.IssuerID == issuerID && v.IsActive(now) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Insert(ctx context.Context, v *Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.byCode[v.Code] = &cp
	return nil
}

func (s *fakeStore) Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.byCode[code]
	if !ok {
		return nil, nil
	}
	if !v.IsActive(now) {
		return nil, nil
	}
	redeemer := redeemerID
	redeemedAt := now
	v.RedeemedBy = &redeemer
	v.RedeemedAt = &redeemedAt
	cp := *v
	return &cp, nil
}

func (s *fakeStore) ListActiveByIssuer(ctx context.Context, issuerID string, now time.Time) ([]*Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Voucher
	for _, v := range s.byCode {
		if v.IssuerID == issuerID && v.IsActive(now) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) TrustGraph(ctx context.Context, after *TrustGraphMarker, limit int) ([]TrustEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TrustEdge
	for code, v := range s.byCode {
		if v.RedeemedAt != nil {
			out = append(out, TrustEdge{
				ID:                  code,
				IssuerFingerprint:   v.IssuerID,
				RedeemerFingerprint: *v.RedeemedBy,
				RedeemedAt:          *v.RedeemedAt,
			})
		}
	}
	return out, nil
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &unlockedView{s})
}

// unlockedView is the Store handed to fn inside WithTx, where the lock is
// already held. CountActiveByIssuer and Insert skip the mutex; Redeem,
// ListActiveByIssuer and TrustGraph delegate to fakeStore's locking
// methods, so only the first two may be called inside WithTx.
type unlockedView struct{ s *fakeStore }

func (u *unlockedView) CountActiveByIssuer(ctx context.Context, issuerID string, now time.Time) (int, error) {
	n := 0
	for _, v := range u.s.byCode {
		if v.IssuerID == issuerID && v.IsActive(now) {
			n++
		}
	}
	return n, nil
}
func (u *unlockedView) Insert(ctx context.Context, v *Voucher) error {
	cp := *v
	u.s.byCode[v.Code] = &cp
	return nil
}
func (u *unlockedView) Redeem(ctx context.Context, code, redeemerID string, now time.Time) (*Voucher, error) {
	return u.s.Redeem(ctx, code, redeemerID, now)
}
func (u *unlockedView) ListActiveByIssuer(ctx context.Context, issuerID string, now time.Time) ([]*Voucher, error) {
	return u.s.ListActiveByIssuer(ctx, issuerID, now)
}
func (u *unlockedView) TrustGraph(ctx context.Context, after *TrustGraphMarker, limit int) ([]TrustEdge, error) {
	return u.s.TrustGraph(ctx, after, limit)
}
func (u *unlockedView) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, u)
}

func TestIssueEnforcesIssuerCap(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store)
	ctx := context.Background()

	for i := 0; i < MaxActivePerIssuer; i++ {
		v, err := e.Issue(ctx, "issuerA")
		require.NoError(t, err)
		require.NotNil(t, v)
	}

	v, err := e.Issue(ctx, "issuerA")
	require.NoError(t, err)
	require.Nil(t, v, "issuer at cap must get a null voucher, not an error")
}

func TestRedeemUnknownExpiredAlreadyRedeemedAllCollapseToVoucherInvalid(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store)
	ctx := context.Background()

	_, err := e.Redeem(ctx, "unknown-code", "agentB")
	require.True(t, problem.Is(err, problem.KindVoucherInvalid))

	v, err := e.Issue(ctx, "issuerA")
	require.NoError(t, err)

	_, err = e.Redeem(ctx, v.Code, "agentB")
	require.NoError(t, err)

	_, err = e.Redeem(ctx, v.Code, "agentC")
	require.True(t, problem.Is(err, problem.KindVoucherInvalid), "already-redeemed must collapse to VoucherInvalid")

	expired := &Voucher{Code: "expired-code", IssuerID: "issuerA", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, store.Insert(ctx, expired))
	_, err = e.Redeem(ctx, "expired-code", "agentD")
	require.True(t, problem.Is(err, problem.KindVoucherInvalid))
}

func TestRedeemIsSingleWinnerUnderConcurrency(t *testing.T) {
	store := newFakeStore()
	e := NewEngine(store)
	ctx := context.Background()

	v, err := e.Issue(ctx, "issuerA")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Voucher, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Redeem(ctx, v.Code, "redeemer")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent redeem call must win")
}
