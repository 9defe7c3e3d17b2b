package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/permission"
)

// RelationshipStore implements permission.Store against the
// moltnet_relationship_tuples collection.
type RelationshipStore struct {
	app core.App
}

func NewRelationshipStore(app core.App) *RelationshipStore {
	return &RelationshipStore{app: app}
}

func (s *RelationshipStore) Check(ctx context.Context, t permission.Tuple) (bool, error) {
	_, err := s.app.FindFirstRecordByFilter(
		"moltnet_relationship_tuples",
		"namespace = {:ns} && object = {:obj} && relation = {:rel} && subject = {:sub}",
		map[string]any{"ns": string(t.Namespace), "obj": t.Object, "rel": string(t.Relation), "sub": t.Subject},
	)
	if err != nil {
		return false, nil // not found is not a backend error
	}
	return true, nil
}

func (s *RelationshipStore) Write(ctx context.Context, t permission.Tuple) error {
	if ok, _ := s.Check(ctx, t); ok {
		return nil // idempotent: already present
	}
	collection, err := s.app.FindCollectionByNameOrId("moltnet_relationship_tuples")
	if err != nil {
		return fmt.Errorf("store: moltnet_relationship_tuples collection not found: %w", err)
	}
	record := core.NewRecord(collection)
	record.Set("namespace", string(t.Namespace))
	record.Set("object", t.Object)
	record.Set("relation", string(t.Relation))
	record.Set("subject", t.Subject)
	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("store: write tuple: %w", err)
	}
	return nil
}

func (s *RelationshipStore) Delete(ctx context.Context, t permission.Tuple) error {
	record, err := s.app.FindFirstRecordByFilter(
		"moltnet_relationship_tuples",
		"namespace = {:ns} && object = {:obj} && relation = {:rel} && subject = {:sub}",
		map[string]any{"ns": string(t.Namespace), "obj": t.Object, "rel": string(t.Relation), "sub": t.Subject},
	)
	if err != nil {
		return nil // idempotent: already absent
	}
	if err := s.app.Delete(record); err != nil {
		return fmt.Errorf("store: delete tuple: %w", err)
	}
	return nil
}

func (s *RelationshipStore) DeleteAllForObject(ctx context.Context, ns permission.Namespace, object string) error {
	records, err := s.app.FindRecordsByFilter(
		"moltnet_relationship_tuples",
		"namespace = {:ns} && object = {:obj}",
		"", 0, 0,
		map[string]any{"ns": string(ns), "obj": object},
	)
	if err != nil {
		return fmt.Errorf("store: find tuples for object: %w", err)
	}
	for _, r := range records {
		if err := s.app.Delete(r); err != nil {
			return fmt.Errorf("store: delete tuple: %w", err)
		}
	}
	return nil
}
