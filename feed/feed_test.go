package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moltnet.dev/core/problem"
)

type memStore struct {
	entries []Entry // pre-sorted createdAt DESC, id DESC
	byID    map[string]Entry
}

func newMemStore(entries []Entry) *memStore {
	byID := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	return &memStore{entries: entries, byID: byID}
}

func (s *memStore) ListPublic(ctx context.Context, after *PageMarker, tag string, limit int) ([]Entry, error) {
	var out []Entry
	started := after == nil
	for _, e := range s.entries {
		if !started {
			if e.CreatedAt.Equal(after.CreatedAt) && e.ID == after.ID {
				started = true
			}
			continue
		}
		if tag != "" && !containsTag(e.Tags, tag) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *memStore) GetPublic(ctx context.Context, id string) (Entry, bool, error) {
	e, ok := s.byID[id]
	return e, ok, nil
}

func fixtureEntries() []Entry {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Entry, 0, 25)
	for i := 0; i < 25; i++ {
		out = append(out, Entry{
			ID:        padID(i),
			Title:     "entry",
			CreatedAt: base.Add(-time.Duration(i) * time.Hour),
			Tags:      []string{"general"},
		})
	}
	return out
}

func padID(i int) string {
	s := "id-00"
	n := 24 - i
	digits := []byte{byte('0' + n/10), byte('0' + n%10)}
	return s + string(digits)
}

func TestListDefaultLimitAndHasMore(t *testing.T) {
	store := newMemStore(fixtureEntries())
	g := NewGate(store, nil, nil)

	result, err := g.List(context.Background(), ListQuery{})
	require.NoError(t, err)
	require.Len(t, result.Items, DefaultListLimit)
	require.NotEmpty(t, result.NextCursor)
}

func TestListCursorRoundTrip(t *testing.T) {
	store := newMemStore(fixtureEntries())
	g := NewGate(store, nil, nil)

	first, err := g.List(context.Background(), ListQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, first.Items, 10)
	require.NotEmpty(t, first.NextCursor)

	second, err := g.List(context.Background(), ListQuery{Limit: 10, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 10)
	require.NotEqual(t, first.Items[0].ID, second.Items[0].ID)
}

func TestListInvalidCursorRejected(t *testing.T) {
	store := newMemStore(fixtureEntries())
	g := NewGate(store, nil, nil)

	_, err := g.List(context.Background(), ListQuery{Cursor: "not-valid-base64url-json"})
	require.True(t, problem.Is(err, problem.KindInvalidCursor))
}

func TestListLimitClampedToMax(t *testing.T) {
	store := newMemStore(fixtureEntries())
	g := NewGate(store, nil, nil)

	result, err := g.List(context.Background(), ListQuery{Limit: 1000})
	require.NoError(t, err)
	require.LessOrEqual(t, len(result.Items), MaxListLimit)
}

func TestGetPublicEntryFound(t *testing.T) {
	entries := fixtureEntries()
	store := newMemStore(entries)
	g := NewGate(store, nil, nil)

	got, err := g.Get(context.Background(), entries[0].ID)
	require.NoError(t, err)
	require.Equal(t, entries[0].ID, got.ID)
}

func TestGetPublicEntryNotFound(t *testing.T) {
	store := newMemStore(fixtureEntries())
	g := NewGate(store, nil, nil)

	_, err := g.Get(context.Background(), "does-not-exist")
	require.True(t, problem.Is(err, problem.KindNotFound))
}

type fakeSearcher struct {
	lastEmbedding []float32
	rows          []SearchRow
}

func (s *fakeSearcher) Search(ctx context.Context, q string, embedding []float32, tag string, limit int) ([]SearchRow, error) {
	s.lastEmbedding = embedding
	return s.rows, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, q string) ([]float32, error) {
	return nil, errEmbed
}

var errEmbed = fakeFeedErr("embedding service unavailable")

type fakeFeedErr string

func (e fakeFeedErr) Error() string { return string(e) }

func TestSearchFallsBackToLexicalOnEmbeddingFailure(t *testing.T) {
	searcher := &fakeSearcher{rows: []SearchRow{{Entry: Entry{ID: "x"}}}}
	g := NewGate(nil, searcher, failingEmbedder{})

	result, err := g.Search(context.Background(), SearchQuery{Q: "hello world"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Nil(t, searcher.lastEmbedding)
}

func TestSearchRejectsTooShortQuery(t *testing.T) {
	g := NewGate(nil, &fakeSearcher{}, nil)
	_, err := g.Search(context.Background(), SearchQuery{Q: "a"})
	require.True(t, problem.Is(err, problem.KindValidation))
}

func TestSearchRejectsTooLongQuery(t *testing.T) {
	g := NewGate(nil, &fakeSearcher{}, nil)
	_, err := g.Search(context.Background(), SearchQuery{Q: strings.Repeat("a", 201)})
	require.True(t, problem.Is(err, problem.KindValidation))
}

func TestSearchScoreNotExposed(t *testing.T) {
	searcher := &fakeSearcher{rows: []SearchRow{{Entry: Entry{ID: "x"}, Score: 0.987}}}
	g := NewGate(nil, searcher, nil)

	result, err := g.Search(context.Background(), SearchQuery{Q: "hello world"})
	require.NoError(t, err)
	require.Equal(t, "x", result.Items[0].ID)
}
