// Package store provides the PocketBase-backed persistence adapters for
// every Store/Lookup interface the core packages define: voucher.Store,
// permission.Store, signing.Store, recovery.AgentLookup,
// registration.Store, feed.Store, and token.OAuth2ClientFetcher. The
// recovery nonce store is not among them: it is in-memory, in package
// recovery. It is
// grounded directly on the teacher's cmd/server/main.go collection
// bootstrap (ensureXCollection functions building *core.Collection via
// core.NewBaseCollection, then app.Save) and its api/*.go query style
// (app.FindRecordsByFilter / app.FindFirstRecordByFilter with named
// {:param} bindings).
package store

import (
	"fmt"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

// EnsureCollections bootstraps every collection MoltNet needs, following
// the teacher's idiom: look the collection up by name, create it with
// core.NewBaseCollection plus explicit core.*Field values and indexes if
// missing, otherwise leave it (and any future migration) alone.
func EnsureCollections(app *pocketbase.PocketBase) error {
	for _, fn := range []func(*pocketbase.PocketBase) error{
		ensureAgentsCollection,
		ensureVouchersCollection,
		ensureSigningRequestsCollection,
		ensureRelationshipTuplesCollection,
		ensureDiariesCollection,
		ensureDiaryEntriesCollection,
		ensureOAuth2ClientsCollection,
	} {
		if err := fn(app); err != nil {
			return err
		}
	}
	return nil
}

func ensureAgentsCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_agents"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_agents")
	c.Fields.Add(
		&core.TextField{Name: "identity_id", Required: true, Max: 64},
		&core.TextField{Name: "public_key", Required: true, Max: 128},
		&core.TextField{Name: "fingerprint", Required: true, Max: 32},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	c.AddIndex("idx_moltnet_agents_identity", true, "identity_id", "")
	c.AddIndex("idx_moltnet_agents_fingerprint", true, "fingerprint", "")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_agents collection: %w", err)
	}
	app.Logger().Info("Created moltnet_agents collection")
	return nil
}

func ensureVouchersCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_vouchers"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_vouchers")
	c.Fields.Add(
		&core.TextField{Name: "code", Required: true, Max: 64},
		&core.TextField{Name: "issuer_id", Required: true, Max: 64},
		&core.TextField{Name: "redeemed_by", Max: 64},
		&core.DateField{Name: "expires_at", Required: true},
		&core.DateField{Name: "redeemed_at"},
	)
	c.AddIndex("idx_moltnet_vouchers_code", true, "code", "")
	c.AddIndex("idx_moltnet_vouchers_issuer", false, "issuer_id", "")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_vouchers collection: %w", err)
	}
	app.Logger().Info("Created moltnet_vouchers collection")
	return nil
}

func ensureSigningRequestsCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_signing_requests"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_signing_requests")
	c.Fields.Add(
		&core.TextField{Name: "agent_id", Required: true, Max: 64},
		&core.TextField{Name: "message", Required: true, Max: 100000},
		&core.TextField{Name: "nonce", Required: true, Max: 64},
		&core.TextField{Name: "workflow_id", Max: 64},
		&core.SelectField{Name: "status", Values: []string{"pending", "completed", "expired"}, Required: true},
		&core.TextField{Name: "signature", Max: 512},
		&core.BoolField{Name: "valid"},
		&core.DateField{Name: "expires_at", Required: true},
		&core.DateField{Name: "completed_at"},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	c.AddIndex("idx_moltnet_signing_agent", false, "agent_id", "")
	c.AddIndex("idx_moltnet_signing_status", false, "status", "")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_signing_requests collection: %w", err)
	}
	app.Logger().Info("Created moltnet_signing_requests collection")
	return nil
}

func ensureRelationshipTuplesCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_relationship_tuples"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_relationship_tuples")
	c.Fields.Add(
		&core.TextField{Name: "namespace", Required: true, Max: 32},
		&core.TextField{Name: "object", Required: true, Max: 64},
		&core.TextField{Name: "relation", Required: true, Max: 32},
		&core.TextField{Name: "subject", Required: true, Max: 64},
	)
	c.AddIndex("idx_moltnet_tuples_unique", true, "namespace", "object", "relation", "subject")
	c.AddIndex("idx_moltnet_tuples_object", false, "namespace", "object")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_relationship_tuples collection: %w", err)
	}
	app.Logger().Info("Created moltnet_relationship_tuples collection")
	return nil
}

func ensureDiariesCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_diaries"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_diaries")
	c.Fields.Add(
		&core.TextField{Name: "owner_id", Required: true, Max: 64},
		&core.SelectField{Name: "visibility", Values: []string{"private", "public"}, Required: true},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	c.AddIndex("idx_moltnet_diaries_owner", false, "owner_id", "")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_diaries collection: %w", err)
	}
	app.Logger().Info("Created moltnet_diaries collection")
	return nil
}

func ensureDiaryEntriesCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_diary_entries"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_diary_entries")
	c.Fields.Add(
		&core.TextField{Name: "diary_id", Required: true, Max: 64},
		&core.TextField{Name: "owner_id", Required: true, Max: 64},
		&core.TextField{Name: "title", Max: 300},
		&core.TextField{Name: "body", Max: 50000},
		&core.JSONField{Name: "tags"},
		&core.JSONField{Name: "embedding"},
		&core.AutodateField{Name: "created", OnCreate: true},
	)
	c.AddIndex("idx_moltnet_entries_diary", false, "diary_id", "")
	c.AddIndex("idx_moltnet_entries_created", false, "created", "")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_diary_entries collection: %w", err)
	}
	app.Logger().Info("Created moltnet_diary_entries collection")
	return nil
}

func ensureOAuth2ClientsCollection(app *pocketbase.PocketBase) error {
	if _, err := app.FindCollectionByNameOrId("moltnet_oauth2_clients"); err == nil {
		return nil
	}
	c := core.NewBaseCollection("moltnet_oauth2_clients")
	c.Fields.Add(
		&core.TextField{Name: "client_id", Required: true, Max: 64},
		&core.TextField{Name: "identity_id", Required: true, Max: 64},
		&core.TextField{Name: "public_key", Max: 128},
		&core.TextField{Name: "fingerprint", Max: 32},
	)
	c.AddIndex("idx_moltnet_oauth2_clients_id", true, "client_id", "")
	if err := app.Save(c); err != nil {
		return fmt.Errorf("create moltnet_oauth2_clients collection: %w", err)
	}
	app.Logger().Info("Created moltnet_oauth2_clients collection")
	return nil
}
