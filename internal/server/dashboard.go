package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/oauthflow"
	"github.com/alexjbarnes/ga4-reports/internal/reports"
	"github.com/alexjbarnes/ga4-reports/internal/session"
)

// currentSession returns the caller's dashboard session, if any.
func currentSession(cfg MuxConfig, r *http.Request) (*session.Session, bool) {
	c, err := r.Cookie(session.CookieName)
	if err != nil {
		return nil, false
	}

	return cfg.Sessions.Get(c.Value)
}

// ensureSession returns the caller's session, creating one and setting
// its cookie when needed.
func ensureSession(w http.ResponseWriter, r *http.Request, cfg MuxConfig) *session.Session {
	if s, ok := currentSession(cfg, r); ok {
		return s
	}

	s := cfg.Sessions.New()
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    s.ID(),
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})

	return s
}

// HandleLoginGoogle signs the admin in with their own Google account.
func HandleLoginGoogle(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := ensureSession(w, r, cfg)
		http.Redirect(w, r, cfg.Handshake.BuildAuthorizationURL(oauthflow.PurposeLogin, s.ID(), nil), http.StatusFound)
	}
}

// HandleLoginUpload signs in with an uploaded service account key,
// sent either as the "credential" multipart file or as the raw body.
func HandleLoginUpload(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

		var data []byte

		if file, _, err := r.FormFile("credential"); err == nil {
			defer file.Close()

			data, err = io.ReadAll(file)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "reading uploaded credential failed")
				return
			}
		} else {
			data, err = io.ReadAll(r.Body)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid_request", "reading credential failed")
				return
			}
		}

		startServiceSession(w, r, cfg, data, session.MethodJSONUpload)
	}
}

// HandleLoginConfigured signs in with the server's configured service
// account key.
func HandleLoginConfigured(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(cfg.ServiceAccountKey) == 0 {
			writeJSONError(w, http.StatusServiceUnavailable, "no_client", "no service credential is configured")
			return
		}

		startServiceSession(w, r, cfg, cfg.ServiceAccountKey, session.MethodConfiguredSecret)
	}
}

func startServiceSession(w http.ResponseWriter, r *http.Request, cfg MuxConfig, data []byte, method session.Method) {
	s := ensureSession(w, r, cfg)

	if err := s.StartServiceCredentialSession(r.Context(), data, method); err != nil {
		cfg.Logger.Warn("service credential login failed",
			slog.String("method", string(method)),
			slog.String("error", err.Error()),
		)
		writeJSONError(w, http.StatusBadRequest, "invalid_credential", err.Error())

		return
	}

	writeJSON(w, http.StatusOK, s.Snapshot())
}

// HandleLogout ends the dashboard session.
func HandleLogout(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s, ok := currentSession(cfg, r); ok {
			cfg.Sessions.Destroy(s.ID())
		}

		http.SetCookie(w, &http.Cookie{
			Name:     session.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.secureCookies(),
			SameSite: http.SameSiteLaxMode,
		})

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSession describes the caller's session.
func HandleSession(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := currentSession(cfg, r)
		if !ok {
			writeJSON(w, http.StatusOK, session.Snapshot{})
			return
		}

		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// HandleSessionQuery runs a catalog report with the admin's own
// session client. Project defaults to the session's billing project.
func HandleSessionQuery(cfg MuxConfig, dryRun bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		s, ok := currentSession(cfg, r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "not_authenticated", apperrors.ErrNotAuthenticated.Error())
			return
		}

		if err := s.RefreshIfNeeded(r.Context()); err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, apperrors.ErrNotAuthenticated) {
				cfg.Logger.Warn("session refresh failed", slog.String("error", err.Error()))
			}

			writeJSONError(w, status, "not_authenticated", err.Error())

			return
		}

		client := s.Client()
		if client == nil {
			writeJSONError(w, http.StatusConflict, "no_client", apperrors.ErrNoClient.Error())
			return
		}

		report, found := cfg.Catalog.Report(req.Category, req.Report)
		if !found {
			writeJSONError(w, http.StatusNotFound, "not_found", "unknown report")
			return
		}

		target := reports.QueryTarget{Project: req.ProjectID, Dataset: req.DatasetID}
		if target.Project == "" {
			target.Project = client.ProjectID()
		}

		if target.Dataset == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "dataset_id is required")
			return
		}

		runReport(w, r, cfg, client, report, target, dryRun)
	}
}
