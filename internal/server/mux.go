// Package server provides HTTP server construction for ga4-reports.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexjbarnes/ga4-reports/internal/access"
	"github.com/alexjbarnes/ga4-reports/internal/oauthflow"
	"github.com/alexjbarnes/ga4-reports/internal/reports"
	"github.com/alexjbarnes/ga4-reports/internal/session"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Engine    *access.Engine
	Catalog   *reports.Catalog
	Handshake *oauthflow.Handshake
	Sessions  *session.Registry
	Factory   session.ClientFactory
	Logger    *slog.Logger

	// AdminUsers maps admin usernames to bcrypt hashes.
	AdminUsers map[string]string

	// ServiceAccountKey is the configured service credential. It backs
	// tokens that do not use delegation and the configured-secret
	// login. May be nil.
	ServiceAccountKey []byte

	BaseURL               string
	DefaultExpirationDays int
}

// secureCookies reports whether cookies should carry the Secure flag.
func (c MuxConfig) secureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// NewMux builds the HTTP mux. Admin token management and dashboard
// sessions sit behind basic auth. Client token links, the OAuth
// callback and the token-scoped query API are public; the token is the
// credential there.
func NewMux(cfg MuxConfig) *http.ServeMux {
	admin := adminAuth(cfg.AdminUsers, newFailedLogins(), cfg.Logger)

	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, admin(h))
	}

	handle("GET /admin/tokens", HandleListTokens(cfg))
	handle("POST /admin/tokens", HandleCreateToken(cfg))
	handle("GET /admin/tokens/{token}", HandleGetToken(cfg))
	handle("POST /admin/tokens/{token}/revoke", HandleRevokeToken(cfg))
	handle("POST /admin/tokens/{token}/extend", HandleExtendToken(cfg))
	handle("POST /admin/tokens/{token}/scope", HandleConfigureScope(cfg))
	handle("DELETE /admin/tokens/{token}", HandleDeleteToken(cfg))
	handle("GET /admin/stats", HandleStats(cfg))
	handle("GET /admin/export", HandleExport(cfg))
	handle("POST /admin/import", HandleImport(cfg))
	handle("GET /admin/categories", HandleCategories(cfg))

	handle("GET /login/google", HandleLoginGoogle(cfg))
	handle("POST /login/upload", HandleLoginUpload(cfg))
	handle("POST /login/configured", HandleLoginConfigured(cfg))
	handle("POST /logout", HandleLogout(cfg))
	handle("GET /session", HandleSession(cfg))
	handle("POST /session/query", HandleSessionQuery(cfg, false))
	handle("POST /session/dry_run", HandleSessionQuery(cfg, true))

	mux.HandleFunc("GET /client_oauth", HandleClientOAuth(cfg))
	mux.HandleFunc("GET /oauth/callback", HandleOAuthCallback(cfg))
	mux.HandleFunc("GET /admin_client_view", HandleClientView(cfg))
	mux.HandleFunc("POST /api/query", HandleTokenQuery(cfg, false))
	mux.HandleFunc("POST /api/dry_run", HandleTokenQuery(cfg, true))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}
