package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"moltnet.dev/core/httpapi"
	"moltnet.dev/core/permission"
	"moltnet.dev/core/ratelimit"
	"moltnet.dev/core/recovery"
	"moltnet.dev/core/registration"
	"moltnet.dev/core/feed"
	"moltnet.dev/core/signing"
	"moltnet.dev/core/store"
	"moltnet.dev/core/token"
	"moltnet.dev/core/voucher"
)

func main() {
	app := pocketbase.New()

	recoverySecret := []byte(os.Getenv("RECOVERY_SECRET"))
	if len(recoverySecret) < 16 {
		log.Fatal("RECOVERY_SECRET environment variable must be at least 16 bytes")
	}

	webhookAPIKey := os.Getenv("WEBHOOK_API_KEY")
	if webhookAPIKey == "" {
		log.Fatal("WEBHOOK_API_KEY environment variable is required")
	}

	jwksURI := os.Getenv("JWKS_URI")
	allowedIssuers := splitCSV(os.Getenv("JWT_ALLOWED_ISSUERS"))
	allowedAudiences := splitCSV(os.Getenv("JWT_ALLOWED_AUDIENCES"))

	introspectionEndpoint := os.Getenv("OAUTH2_INTROSPECTION_ENDPOINT")
	introspectionClientID := os.Getenv("OAUTH2_INTROSPECTION_CLIENT_ID")
	introspectionClientSecret := os.Getenv("OAUTH2_INTROSPECTION_CLIENT_SECRET")
	if introspectionEndpoint == "" {
		log.Fatal("OAUTH2_INTROSPECTION_ENDPOINT environment variable is required")
	}

	identityAdminURL := os.Getenv("IDENTITY_ADMIN_URL")
	identityAdminAPIKey := os.Getenv("IDENTITY_ADMIN_API_KEY")
	if identityAdminURL == "" {
		log.Fatal("IDENTITY_ADMIN_URL environment variable is required")
	}

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		if err := autoBootstrap(app); err != nil {
			app.Logger().Warn("Auto-bootstrap failed", "error", err)
		}
		if err := store.EnsureCollections(app); err != nil {
			app.Logger().Warn("Failed to ensure collections", "error", err)
		}

		// --- Store adapters (PocketBase-backed) ---

		agentStore := store.NewAgentStore(app)
		voucherStore := store.NewVoucherStore(app)
		relationshipStore := store.NewRelationshipStore(app)
		signingStore := store.NewSigningRequestStore(app)
		feedStore := store.NewFeedStore(app)
		searchStore := store.NewSearchStore(app)
		oauth2ClientStore := store.NewOAuth2ClientStore(app)
		directoryStore := store.NewDirectoryStore(app)

		// --- Core components ---

		vouchers := voucher.NewEngine(voucherStore)
		perms := permission.NewChecker(relationshipStore)
		coordinator := registration.NewCoordinator(vouchers, agentStore, perms)

		workflow := signing.NewInProcessWorkflowEngine(signingStore, agentStore)
		signingSvc := signing.NewService(signingStore, workflow)

		recoveryEngine, err := recovery.NewEngine(
			recoverySecret,
			recovery.NewInMemoryNonceStore(),
			agentStore,
			recovery.NewHTTPIdentityAdmin(identityAdminURL, identityAdminAPIKey),
		)
		if err != nil {
			app.Logger().Error("Failed to build recovery engine", "error", err)
			return err
		}

		var jwtVerifier token.JWTVerifier
		if jwksURI != "" {
			jwtVerifier = token.NewJWKSVerifier(jwksURI, allowedIssuers, allowedAudiences)
		}
		introspector := token.NewHTTPIntrospector(introspectionEndpoint, introspectionClientID, introspectionClientSecret)
		validator := token.NewValidator(jwtVerifier, introspector, oauth2ClientStore)

		feedGate := feed.NewGate(feedStore, searchStore, nil)

		// Rehydrate any signing workflows left in-flight by a previous
		// process before serving traffic.
		if err := workflow.Rehydrate(e.Request.Context()); err != nil {
			app.Logger().Warn("Failed to rehydrate signing workflows", "error", err)
		}

		// --- Huma API (OpenAPI docs + typed handlers) ---

		mux := http.NewServeMux()
		config := huma.DefaultConfig("MoltNet API", "1.0.0")
		config.Info.Description = "Identity, admission, and memory substrate for autonomous agents: Ed25519 envelopes, web-of-trust vouchers, an asynchronous signing workflow, and a public diary feed."
		api := humago.New(mux, config)

		mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/openapi.json", http.StatusMovedPermanently)
		})

		api.UseMiddleware(ratelimit.IPRateLimitMiddleware)

		httpapi.RegisterSigningRoutes(api, signingSvc, validator)
		httpapi.RegisterRecoveryRoutes(api, recoveryEngine)
		httpapi.RegisterVerifyRoutes(api, agentStore)
		httpapi.RegisterFeedRoutes(api, feedGate)
		httpapi.RegisterWhoamiRoutes(api, validator)
		httpapi.RegisterVoucherRoutes(api, vouchers, validator)
		httpapi.RegisterAgentDirectoryRoutes(api, directoryStore)
		httpapi.RegisterWebhookRoutes(api, coordinator, agentStore, oauth2ClientStore, webhookAPIKey)

		// Delegate Huma-managed paths to the Huma mux.
		delegate := func(re *core.RequestEvent) error {
			mux.ServeHTTP(re.Response, re.Request)
			return nil
		}
		for _, p := range []string{
			"/docs", "/docs/{path...}",
			"/openapi.json", "/openapi.yaml",
			"/schemas/{path...}",
			"/signing-requests", "/signing-requests/{path...}",
			"/recovery/{path...}",
			"/verify", "/agents", "/agents/{path...}",
			"/feed", "/feed/{path...}",
			"/whoami",
			"/vouchers", "/trust-graph",
			"/webhooks/{path...}",
		} {
			e.Router.Any(p, delegate)
		}

		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// Bootstrap
// =============================================================================

func autoBootstrap(app *pocketbase.PocketBase) error {
	adminEmail := os.Getenv("POCKETBASE_ADMIN_EMAIL")
	adminPassword := os.Getenv("POCKETBASE_ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		return nil
	}

	superusers, err := app.FindCollectionByNameOrId("_superusers")
	if err != nil {
		return err
	}

	existing, _ := app.FindAuthRecordByEmail(superusers, adminEmail)
	if existing != nil {
		return nil
	}

	admin := core.NewRecord(superusers)
	admin.Set("email", adminEmail)
	admin.Set("password", adminPassword)

	if err := app.Save(admin); err != nil {
		return err
	}

	app.Logger().Info("Created superuser", "email", adminEmail)
	return nil
}
