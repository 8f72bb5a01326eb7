package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/access"
	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/logging"
	"github.com/alexjbarnes/ga4-reports/internal/models"
)

// tokenView is the admin representation of a record. Credential
// secrets are never included.
type tokenView struct {
	Token                   string     `json:"token"`
	ClientName              string     `json:"client_name"`
	Notes                   string     `json:"notes"`
	ProjectID               string     `json:"project_id"`
	DatasetID               string     `json:"dataset_id"`
	AllowedReportCategories []string   `json:"allowed_report_categories"`
	CreatedAt               time.Time  `json:"created_at"`
	ExpirationDate          time.Time  `json:"expiration_date"`
	Active                  bool       `json:"active"`
	Expired                 bool       `json:"expired"`
	Servable                bool       `json:"servable"`
	AccessCount             int64      `json:"access_count"`
	LastAccess              *time.Time `json:"last_access"`
	OAuthStatus             string     `json:"oauth_status"`
	OAuthAuthorizedAt       *time.Time `json:"oauth_authorized_at"`
	OAuthIdentity           string     `json:"oauth_identity,omitempty"`
	HasCredentials          bool       `json:"has_credentials"`
	AccessURL               string     `json:"access_url"`
	DelegationURL           string     `json:"delegation_url,omitempty"`

	// Warning reports a durable-layer failure. The change itself took
	// effect in memory.
	Warning string `json:"warning,omitempty"`
}

func newTokenView(r models.AccessRecord, baseURL string, now time.Time) tokenView {
	v := tokenView{
		Token:                   r.Token,
		ClientName:              r.ClientName,
		Notes:                   r.Notes,
		ProjectID:               r.ProjectID,
		DatasetID:               r.DatasetID,
		AllowedReportCategories: r.AllowedReportCategories,
		CreatedAt:               r.CreatedAt,
		ExpirationDate:          r.ExpirationDate,
		Active:                  r.Active,
		Expired:                 r.Expired(now),
		Servable:                r.Servable(now),
		AccessCount:             r.AccessCount,
		LastAccess:              r.LastAccess,
		OAuthStatus:             r.OAuthStatus.String(),
		OAuthAuthorizedAt:       r.OAuthAuthorizedAt,
		OAuthIdentity:           r.OAuthIdentity,
		HasCredentials:          r.OAuthCredentials != nil,
		AccessURL:               access.AccessURL(baseURL, r.Token),
	}

	if v.AllowedReportCategories == nil {
		v.AllowedReportCategories = []string{}
	}

	if r.OAuthStatus != models.OAuthNotRequired {
		v.DelegationURL = access.DelegationURL(baseURL, r.Token)
	}

	return v
}

// persistenceWarning turns a durable-layer error into a response
// warning. Any other error is returned for the caller to handle.
func persistenceWarning(err error, logger *slog.Logger) (string, error) {
	if err == nil {
		return "", nil
	}

	if errors.Is(err, apperrors.ErrPersistence) {
		logger.Error("persisting access tokens failed", slog.String("error", err.Error()))
		return apperrors.ErrPersistence.Error(), nil
	}

	return "", err
}

// respondRecord writes the current view of token after a mutation.
func respondRecord(w http.ResponseWriter, cfg MuxConfig, token string, status int, mutErr error) {
	warning, err := persistenceWarning(mutErr, cfg.Logger)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	r, ok := cfg.Engine.Get(token)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "token not found")
		return
	}

	v := newTokenView(r, cfg.BaseURL, time.Now())
	v.Warning = warning
	writeJSON(w, status, v)
}

// HandleListTokens returns every token, newest first.
func HandleListTokens(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		records := cfg.Engine.List()

		views := make([]tokenView, len(records))
		for i, r := range records {
			views[i] = newTokenView(r, cfg.BaseURL, now)
		}

		writeJSON(w, http.StatusOK, map[string]any{"tokens": views})
	}
}

type createTokenRequest struct {
	ClientName              string   `json:"client_name"`
	ProjectID               string   `json:"project_id"`
	DatasetID               string   `json:"dataset_id"`
	AllowedReportCategories []string `json:"allowed_report_categories"`
	ExpirationDays          *int     `json:"expiration_days"`
	Notes                   string   `json:"notes"`
	RequireDelegation       bool     `json:"require_delegation"`
}

// HandleCreateToken mints a token.
func HandleCreateToken(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTokenRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		days := cfg.DefaultExpirationDays
		if req.ExpirationDays != nil {
			days = *req.ExpirationDays
		}

		rec, err := cfg.Engine.Create(access.CreateParams{
			ClientName:        req.ClientName,
			ProjectID:         req.ProjectID,
			DatasetID:         req.DatasetID,
			Categories:        req.AllowedReportCategories,
			ExpirationDays:    days,
			Notes:             req.Notes,
			RequireDelegation: req.RequireDelegation,
		})

		warning, err := persistenceWarning(err, cfg.Logger)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		cfg.Logger.Info("token issued",
			slog.String("admin", AdminUser(r)),
			slog.String("token", logging.TokenPrefix(rec.Token)),
		)

		v := newTokenView(rec, cfg.BaseURL, time.Now())
		v.Warning = warning
		writeJSON(w, http.StatusCreated, v)
	}
}

// HandleGetToken returns one token without counting an access.
func HandleGetToken(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := cfg.Engine.Get(r.PathValue("token"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}

		writeJSON(w, http.StatusOK, newTokenView(rec, cfg.BaseURL, time.Now()))
	}
}

// HandleRevokeToken deactivates a token.
func HandleRevokeToken(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")

		ok, err := cfg.Engine.Revoke(token)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}

		respondRecord(w, cfg, token, http.StatusOK, err)
	}
}

// HandleDeleteToken removes a token permanently.
func HandleDeleteToken(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := cfg.Engine.Delete(r.PathValue("token"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}

		warning, err := persistenceWarning(err, cfg.Logger)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}

		if warning != "" {
			writeJSON(w, http.StatusOK, map[string]string{"warning": warning})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type extendRequest struct {
	Days int `json:"days"`
}

// HandleExtendToken pushes a token's deadline out.
func HandleExtendToken(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req extendRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if req.Days <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "days must be positive")
			return
		}

		token := r.PathValue("token")

		ok, err := cfg.Engine.Extend(token, req.Days)
		if errors.Is(err, apperrors.ErrExpirationRange) {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		if !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}

		respondRecord(w, cfg, token, http.StatusOK, err)
	}
}

type scopeRequest struct {
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
}

// HandleConfigureScope grants a delegated token its project and
// dataset. Only tokens whose owner has completed delegation qualify.
func HandleConfigureScope(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scopeRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		token := r.PathValue("token")

		if _, exists := cfg.Engine.Get(token); !exists {
			writeJSONError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}

		ok, err := cfg.Engine.ConfigureScope(token, req.ProjectID, req.DatasetID)
		if !ok {
			writeJSONError(w, http.StatusConflict, "not_authorized",
				"scope can only be set on a token whose client has completed delegation, with both project_id and dataset_id")

			return
		}

		respondRecord(w, cfg, token, http.StatusOK, err)
	}
}

// HandleStats returns the token table summary.
func HandleStats(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, cfg.Engine.Stats())
	}
}

// HandleExport downloads the full token table.
func HandleExport(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blob, err := cfg.Engine.Export()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "server_error", "exporting tokens failed")
			return
		}

		cfg.Logger.Info("tokens exported", slog.String("admin", AdminUser(r)))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Disposition", `attachment; filename="access_tokens.json"`)
		_, _ = w.Write(blob)
	}
}

// HandleImport replaces the token table with the uploaded blob.
func HandleImport(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 16*maxRequestBody)

		blob, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "invalid_request", "import body too large")
			return
		}

		n, err := cfg.Engine.Import(blob)

		warning, err := persistenceWarning(err, cfg.Logger)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		cfg.Logger.Info("tokens imported", slog.String("admin", AdminUser(r)), slog.Int("count", n))

		resp := map[string]any{"imported": n}
		if warning != "" {
			resp["warning"] = warning
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleCategories lists the report catalog.
func HandleCategories(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"categories": cfg.Catalog.List()})
	}
}
