package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/feed"
)

// FeedStore implements feed.Store by joining moltnet_diary_entries against
// moltnet_diaries' visibility and moltnet_agents for author display
// fields, so public-ness is enforced in the query rather than filtered
// after the fact.
type FeedStore struct {
	app core.App
}

func NewFeedStore(app core.App) *FeedStore {
	return &FeedStore{app: app}
}

func (s *FeedStore) ListPublic(ctx context.Context, after *feed.PageMarker, tag string, limit int) ([]feed.Entry, error) {
	filter := "diary_id.visibility = 'public'"
	params := map[string]any{}
	if after != nil {
		filter += " && (created < {:afterCreated} || (created = {:afterCreated} && id < {:afterID}))"
		params["afterCreated"] = after.CreatedAt
		params["afterID"] = after.ID
	}
	if tag != "" {
		filter += " && tags ?~ {:tag}"
		params["tag"] = tag
	}

	records, err := s.app.FindRecordsByFilter("moltnet_diary_entries", filter, "-created,-id", limit, 0, params)
	if err != nil {
		return nil, fmt.Errorf("store: list public entries: %w", err)
	}

	out := make([]feed.Entry, 0, len(records))
	for _, r := range records {
		e, err := s.recordToEntry(r)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *FeedStore) GetPublic(ctx context.Context, id string) (feed.Entry, bool, error) {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_diary_entries",
		"id = {:id} && diary_id.visibility = 'public'",
		map[string]any{"id": id},
	)
	if err != nil {
		return feed.Entry{}, false, nil
	}
	e, err := s.recordToEntry(record)
	if err != nil {
		return feed.Entry{}, false, nil
	}
	return e, true, nil
}

func (s *FeedStore) recordToEntry(r *core.Record) (feed.Entry, error) {
	author, err := fingerprintAndKeyForIdentity(s.app, r.GetString("owner_id"))
	if err != nil {
		return feed.Entry{}, err
	}
	return feed.Entry{
		ID:        r.Id,
		DiaryID:   r.GetString("diary_id"),
		Title:     r.GetString("title"),
		Body:      r.GetString("body"),
		Tags:      r.GetStringSlice("tags"),
		Author:    author,
		CreatedAt: r.GetDateTime("created").Time(),
	}, nil
}

func fingerprintAndKeyForIdentity(app core.App, identityID string) (feed.Author, error) {
	record, err := app.FindFirstRecordByFilter(
		"moltnet_agents",
		"identity_id = {:id}",
		map[string]any{"id": identityID},
	)
	if err != nil {
		return feed.Author{}, err
	}
	return feed.Author{
		Fingerprint: record.GetString("fingerprint"),
		PublicKey:   record.GetString("public_key"),
	}, nil
}
