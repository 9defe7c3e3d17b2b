package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store test double, grounded on the teacher's
// in-memory TTL-store pattern (api/pow.go's PowStore) minus the TTL.
type memStore struct {
	tuples map[Tuple]bool
	failAll bool
}

func newMemStore() *memStore {
	return &memStore{tuples: make(map[Tuple]bool)}
}

func (m *memStore) Check(ctx context.Context, t Tuple) (bool, error) {
	if m.failAll {
		return false, errors.New("backend unavailable")
	}
	return m.tuples[t], nil
}

func (m *memStore) Write(ctx context.Context, t Tuple) error {
	m.tuples[t] = true
	return nil
}

func (m *memStore) Delete(ctx context.Context, t Tuple) error {
	delete(m.tuples, t)
	return nil
}

func (m *memStore) DeleteAllForObject(ctx context.Context, ns Namespace, object string) error {
	for t := range m.tuples {
		if t.Namespace == ns && t.Object == object {
			delete(m.tuples, t)
		}
	}
	return nil
}

func TestOwnerCanDoEverythingOnEntry(t *testing.T) {
	store := newMemStore()
	c := NewChecker(store)
	ctx := context.Background()

	require.NoError(t, c.GrantOwnership(ctx, "entry1", "agentA"))

	require.True(t, c.CanViewEntry(ctx, "entry1", "agentA", "diary1"))
	require.True(t, c.CanEditEntry(ctx, "entry1", "agentA"))
	require.True(t, c.CanDeleteEntry(ctx, "entry1", "agentA"))
	require.True(t, c.CanShareEntry(ctx, "entry1", "agentA"))

	require.False(t, c.CanEditEntry(ctx, "entry1", "agentB"))
}

func TestViewerCanOnlyView(t *testing.T) {
	store := newMemStore()
	c := NewChecker(store)
	ctx := context.Background()

	require.NoError(t, c.GrantOwnership(ctx, "entry1", "agentA"))
	require.NoError(t, c.GrantViewer(ctx, "entry1", "agentB"))

	require.True(t, c.CanViewEntry(ctx, "entry1", "agentB", "diary1"))
	require.False(t, c.CanEditEntry(ctx, "entry1", "agentB"))

	require.NoError(t, c.RevokeViewer(ctx, "entry1", "agentB"))
	require.False(t, c.CanViewEntry(ctx, "entry1", "agentB", "diary1"))
}

func TestParentDiaryReadGrantsEntryView(t *testing.T) {
	store := newMemStore()
	c := NewChecker(store)
	ctx := context.Background()

	require.NoError(t, c.GrantDiaryOwner(ctx, "diary1", "agentA"))
	require.NoError(t, store.Write(ctx, Tuple{NamespaceDiary, "diary1", RelationReader, "agentC"}))

	require.True(t, c.CanViewEntry(ctx, "entryX", "agentC", "diary1"))
	require.True(t, c.CanRead(ctx, "diary1", "agentC"))
	require.False(t, c.CanWrite(ctx, "diary1", "agentC"))
}

func TestStoreErrorIsDeny(t *testing.T) {
	store := newMemStore()
	store.failAll = true
	c := NewChecker(store)
	ctx := context.Background()

	require.False(t, c.CanViewEntry(ctx, "entry1", "agentA", "diary1"))
	require.False(t, c.CanRead(ctx, "diary1", "agentA"))
}

func TestWritesAreIdempotent(t *testing.T) {
	store := newMemStore()
	c := NewChecker(store)
	ctx := context.Background()

	require.NoError(t, c.GrantOwnership(ctx, "entry1", "agentA"))
	require.NoError(t, c.GrantOwnership(ctx, "entry1", "agentA"))
	require.NoError(t, c.RevokeViewer(ctx, "entry1", "agentZ")) // never existed
}

func TestRemoveEntryRelationsDeletesAll(t *testing.T) {
	store := newMemStore()
	c := NewChecker(store)
	ctx := context.Background()

	require.NoError(t, c.GrantOwnership(ctx, "entry1", "agentA"))
	require.NoError(t, c.GrantViewer(ctx, "entry1", "agentB"))
	require.NoError(t, c.RemoveEntryRelations(ctx, "entry1"))

	require.False(t, c.CanEditEntry(ctx, "entry1", "agentA"))
	require.False(t, c.CanViewEntry(ctx, "entry1", "agentB", "diary1"))
}
