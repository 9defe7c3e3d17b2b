// Package permission implements the relationship-tuple permission model
// (spec.md §3, §4.3): namespaces {Agent, Diary, DiaryEntry}, relations
// {owner, writer, reader, viewer, self, parent}, and the derived
// permissions built on top of them. The model is deliberately thin: every
// check is a single positive query against an external RelationshipStore,
// grounded the same way the teacher's permission checks stay a single
// lookup against PocketBase rather than growing a query planner.
package permission

import (
	"context"
)

// Namespace is one of the three closed namespaces tuples can name.
type Namespace string

const (
	NamespaceAgent      Namespace = "Agent"
	NamespaceDiary      Namespace = "Diary"
	NamespaceDiaryEntry Namespace = "DiaryEntry"
)

// Relation is one of the six relations tuples can carry.
type Relation string

const (
	RelationOwner  Relation = "owner"
	RelationWriter Relation = "writer"
	RelationReader Relation = "reader"
	RelationViewer Relation = "viewer"
	RelationSelf   Relation = "self"
	RelationParent Relation = "parent"
)

// Tuple is a single relationship fact: (namespace, object, relation, subject).
type Tuple struct {
	Namespace Namespace
	Object    string
	Relation  Relation
	Subject   string
}

// Store is the external relationship-tuple backend. A single positive
// lookup (Check) answers every derived-permission question below; Write
// and Delete are idempotent per spec.md §4.3 ("creating an existing tuple
// or deleting a non-existent one is not an error").
//
// Implementations MUST treat a backend error as deny, never as allow —
// §4.3: "A store error is treated as deny (never open-by-default)."
type Store interface {
	// Check reports whether the tuple (namespace, object, relation,
	// subject) exists.
	Check(ctx context.Context, t Tuple) (bool, error)
	// Write idempotently creates a tuple.
	Write(ctx context.Context, t Tuple) error
	// Delete idempotently removes a tuple.
	Delete(ctx context.Context, t Tuple) error
	// DeleteAllForObject removes every tuple naming (namespace, object)
	// regardless of relation/subject — used by removeEntryRelations.
	DeleteAllForObject(ctx context.Context, ns Namespace, object string) error
}

// Checker implements C3's derived-permission operations against a Store.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// check wraps a single Store.Check call, collapsing any backend error into
// deny per §4.3.
func (c *Checker) check(ctx context.Context, t Tuple) bool {
	ok, err := c.store.Check(ctx, t)
	if err != nil {
		return false
	}
	return ok
}

// CanViewEntry implements DiaryEntry.view ⇐ owner ∨ viewer ∨ parent.read.
func (c *Checker) CanViewEntry(ctx context.Context, entryID, agentID, diaryID string) bool {
	if c.check(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationOwner, agentID}) {
		return true
	}
	if c.check(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationViewer, agentID}) {
		return true
	}
	return c.CanRead(ctx, diaryID, agentID)
}

// CanEditEntry implements DiaryEntry.edit ⇐ owner.
func (c *Checker) CanEditEntry(ctx context.Context, entryID, agentID string) bool {
	return c.check(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationOwner, agentID})
}

// CanDeleteEntry implements DiaryEntry.delete ⇐ owner.
func (c *Checker) CanDeleteEntry(ctx context.Context, entryID, agentID string) bool {
	return c.check(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationOwner, agentID})
}

// CanShareEntry implements DiaryEntry.share ⇐ owner.
func (c *Checker) CanShareEntry(ctx context.Context, entryID, agentID string) bool {
	return c.check(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationOwner, agentID})
}

// CanRead implements Diary.read ⇐ owner ∨ readers.
func (c *Checker) CanRead(ctx context.Context, diaryID, agentID string) bool {
	if c.check(ctx, Tuple{NamespaceDiary, diaryID, RelationOwner, agentID}) {
		return true
	}
	return c.check(ctx, Tuple{NamespaceDiary, diaryID, RelationReader, agentID})
}

// CanWrite implements Diary.write ⇐ owner ∨ writers.
func (c *Checker) CanWrite(ctx context.Context, diaryID, agentID string) bool {
	if c.check(ctx, Tuple{NamespaceDiary, diaryID, RelationOwner, agentID}) {
		return true
	}
	return c.check(ctx, Tuple{NamespaceDiary, diaryID, RelationWriter, agentID})
}

// GrantOwnership writes (DiaryEntry, entryID, owner, agentID).
func (c *Checker) GrantOwnership(ctx context.Context, entryID, agentID string) error {
	return c.store.Write(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationOwner, agentID})
}

// GrantViewer writes (DiaryEntry, entryID, viewer, agentID).
func (c *Checker) GrantViewer(ctx context.Context, entryID, agentID string) error {
	return c.store.Write(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationViewer, agentID})
}

// RevokeViewer deletes (DiaryEntry, entryID, viewer, agentID).
func (c *Checker) RevokeViewer(ctx context.Context, entryID, agentID string) error {
	return c.store.Delete(ctx, Tuple{NamespaceDiaryEntry, entryID, RelationViewer, agentID})
}

// RegisterAgent writes the self-relation (Agent, agentID, self, agentID).
func (c *Checker) RegisterAgent(ctx context.Context, agentID string) error {
	return c.store.Write(ctx, Tuple{NamespaceAgent, agentID, RelationSelf, agentID})
}

// GrantDiaryOwner writes (Diary, diaryID, owner, agentID).
func (c *Checker) GrantDiaryOwner(ctx context.Context, diaryID, agentID string) error {
	return c.store.Write(ctx, Tuple{NamespaceDiary, diaryID, RelationOwner, agentID})
}

// RemoveEntryRelations deletes every tuple naming (DiaryEntry, entryID).
func (c *Checker) RemoveEntryRelations(ctx context.Context, entryID string) error {
	return c.store.DeleteAllForObject(ctx, NamespaceDiaryEntry, entryID)
}
