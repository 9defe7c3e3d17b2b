// Package feed implements C8, the public feed gate: anonymous, read-only
// access to public diary entries by cursor list, single-entry lookup, and
// hybrid lexical+vector search (spec.md §4.8).
package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"moltnet.dev/core/problem"
)

// DefaultListLimit and MaxListLimit bound the list endpoint's limit param.
const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

// DefaultSearchLimit and MaxSearchLimit bound the search endpoint.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// MinQueryLen and MaxQueryLen bound the search query string.
const (
	MinQueryLen = 2
	MaxQueryLen = 200
)

// EmbeddingDims is the fixed dimensionality of the search embedding.
const EmbeddingDims = 384

// Author is the public, ownerId-free representation of an entry's author.
type Author struct {
	Fingerprint string `json:"fingerprint"`
	PublicKey   string `json:"publicKey"`
}

// Entry is the public representation of a diary entry: spec.md §4.8
// requires it never carry ownerId or embedding.
type Entry struct {
	ID        string    `json:"id"`
	DiaryID   string    `json:"diaryId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// cursor is the opaque pagination token: (createdAt, id), ordered
// createdAt DESC, id DESC.
type cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

func encodeCursor(c cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("feed: encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, err
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, err
	}
	return c, nil
}

// ListQuery is the input to List.
type ListQuery struct {
	Cursor string // opaque, empty for first page
	Limit  int    // 0 means DefaultListLimit
	Tag    string // optional containment filter
}

// ListResult is the output of List.
type ListResult struct {
	Items      []Entry `json:"items"`
	NextCursor string  `json:"nextCursor,omitempty"`
}

// Store is the external persistence surface List/Search/Get read from. It
// only ever sees/returns entries whose containing diary is public; the
// store, not the gate, is responsible for enforcing that join so a single
// query serves both List and Get.
type Store interface {
	// ListPublic returns up to limit public entries ordered
	// createdAt DESC, id DESC, strictly after after (nil for the first
	// page), optionally filtered to entries containing tag. Gate.List
	// passes its page size plus one, so an extra row signals a next page.
	ListPublic(ctx context.Context, after *PageMarker, tag string, limit int) ([]Entry, error)
	// GetPublic returns the entry with the given id iff its diary is
	// public; (Entry{}, false, nil) otherwise.
	GetPublic(ctx context.Context, id string) (Entry, bool, error)
}

// PageMarker is the decoded form of a cursor, passed to the store so it
// never has to know about the wire encoding.
type PageMarker struct {
	CreatedAt time.Time
	ID        string
}

// SearchRow is one hybrid-search hit before RRF scoring is stripped for
// the wire response.
type SearchRow struct {
	Entry Entry
	Score float64
}

// Searcher is the external hybrid lexical+vector search function. It must
// still return usable results when embedding is nil (embedding generation
// failed upstream): lexical-only search, per spec.md §4.8.
type Searcher interface {
	Search(ctx context.Context, q string, embedding []float32, tag string, limit int) ([]SearchRow, error)
}

// Embedder turns a query string into a 384-dim embedding. A failure here
// is swallowed by Gate.Search, which proceeds lexical-only rather than
// surfacing an error (spec.md §4.8, §7: "embedding failure → lexical-only
// search" is a locally-recovered, not surfaced, failure).
type Embedder interface {
	Embed(ctx context.Context, q string) ([]float32, error)
}

// Gate implements C8's list/get/search operations.
type Gate struct {
	store    Store
	searcher Searcher
	embedder Embedder // optional; nil disables embedding generation entirely
}

func NewGate(store Store, searcher Searcher, embedder Embedder) *Gate {
	return &Gate{store: store, searcher: searcher, embedder: embedder}
}

// List returns one page of the public feed ordered createdAt DESC, id
// DESC, over-fetching one row to compute hasMore per spec.md §4.8.
func (g *Gate) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var after *PageMarker
	if q.Cursor != "" {
		c, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, problem.Wrap(problem.KindInvalidCursor, "cursor is malformed", err)
		}
		after = &PageMarker{CreatedAt: c.CreatedAt, ID: c.ID}
	}

	rows, err := g.store.ListPublic(ctx, after, q.Tag, limit+1)
	if err != nil {
		return nil, fmt.Errorf("feed: list public entries: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	result := &ListResult{Items: rows}
	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		nc, err := encodeCursor(cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return nil, err
		}
		result.NextCursor = nc
	}
	return result, nil
}

// Get returns a single public entry, or a problem.KindNotFound if the id
// is unknown or its diary is not public — the two cases are
// indistinguishable to the anonymous caller by design.
func (g *Gate) Get(ctx context.Context, id string) (*Entry, error) {
	entry, found, err := g.store.GetPublic(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("feed: get public entry: %w", err)
	}
	if !found {
		return nil, problem.New(problem.KindNotFound, "entry not found")
	}
	return &entry, nil
}

// SearchQuery is the input to Search.
type SearchQuery struct {
	Q     string
	Tag   string
	Limit int // 0 means DefaultSearchLimit
}

// SearchResult is the output of Search. Score is intentionally not part of
// the wire shape (spec.md §4.8: "score is not exposed to callers").
type SearchResult struct {
	Items []Entry `json:"items"`
	Query string  `json:"query"`
}

// Search runs the hybrid search, falling back to lexical-only if
// embedding generation fails.
func (g *Gate) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	if n := utf8.RuneCountInString(q.Q); n < MinQueryLen || n > MaxQueryLen {
		return nil, problem.New(problem.KindValidation, fmt.Sprintf("q must be between %d and %d characters", MinQueryLen, MaxQueryLen))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}

	var embedding []float32
	if g.embedder != nil {
		if e, err := g.embedder.Embed(ctx, q.Q); err == nil {
			embedding = e
		}
		// Embedding failure is swallowed: search proceeds lexical-only.
	}

	rows, err := g.searcher.Search(ctx, q.Q, embedding, q.Tag, limit)
	if err != nil {
		return nil, fmt.Errorf("feed: search: %w", err)
	}

	items := make([]Entry, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.Entry)
	}
	return &SearchResult{Items: items, Query: q.Q}, nil
}
