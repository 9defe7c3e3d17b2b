package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/feed"
)

// SearchStore implements feed.Searcher as a lexical-only search over
// moltnet_diary_entries' title/body/tags. No embedding service exists in
// this deployment's dependency set (DESIGN.md), so the embedding
// argument is always nil here in practice; Search still accepts it to
// satisfy feed.Searcher, in case a future Embedder is wired in without
// changing this call site.
type SearchStore struct {
	app core.App
}

func NewSearchStore(app core.App) *SearchStore {
	return &SearchStore{app: app}
}

func (s *SearchStore) Search(ctx context.Context, q string, embedding []float32, tag string, limit int) ([]feed.SearchRow, error) {
	filter := "diary_id.visibility = 'public' && (title ~ {:q} || body ~ {:q})"
	params := map[string]any{"q": q}
	if tag != "" {
		filter += " && tags ?~ {:tag}"
		params["tag"] = tag
	}

	records, err := s.app.FindRecordsByFilter("moltnet_diary_entries", filter, "-created", limit, 0, params)
	if err != nil {
		return nil, fmt.Errorf("store: search entries: %w", err)
	}

	fs := &FeedStore{app: s.app}
	out := make([]feed.SearchRow, 0, len(records))
	for i, r := range records {
		e, err := fs.recordToEntry(r)
		if err != nil {
			continue
		}
		// Lexical-only ranking: rank by recency, since there is no
		// relevance scorer absent a full-text index or an embedding.
		out = append(out, feed.SearchRow{Entry: e, Score: float64(len(records) - i)})
	}
	return out, nil
}
