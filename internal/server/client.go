package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/access"
	"github.com/alexjbarnes/ga4-reports/internal/bigquery"
	"github.com/alexjbarnes/ga4-reports/internal/credential"
	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/logging"
	"github.com/alexjbarnes/ga4-reports/internal/models"
	"github.com/alexjbarnes/ga4-reports/internal/oauthflow"
	"github.com/alexjbarnes/ga4-reports/internal/reports"
)

// HandleClientOAuth starts delegation for a token: the holder is sent
// to the provider's consent screen.
func HandleClientOAuth(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")

		rec, ok := cfg.Engine.Validate(token)
		if !ok {
			renderAccessDenied(w)
			return
		}

		if rec.OAuthStatus == models.OAuthNotRequired {
			http.Redirect(w, r, access.AccessURL(cfg.BaseURL, token), http.StatusFound)
			return
		}

		cfg.Logger.Info("delegation started", slog.String("token", logging.TokenPrefix(token)))

		http.Redirect(w, r, cfg.Handshake.BuildAuthorizationURL(oauthflow.PurposeDelegation, token, nil), http.StatusFound)
	}
}

// HandleClientView shows a token holder the reports they may run, or
// what their token is still waiting for.
func HandleClientView(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")

		rec, ok := cfg.Engine.Validate(token)
		if !ok {
			renderAccessDenied(w)
			return
		}

		if !rec.Servable(time.Now()) {
			renderMessage(w, http.StatusOK, pendingMessage(cfg, rec))
			return
		}

		var cats []reports.Category
		for _, c := range cfg.Catalog.List() {
			if rec.AllowsCategory(c.ID) {
				cats = append(cats, c)
			}
		}

		setPageHeaders(w)
		_ = clientViewPage.Execute(w, map[string]any{
			"ClientName": rec.ClientName,
			"ProjectID":  rec.ProjectID,
			"DatasetID":  rec.DatasetID,
			"Expires":    rec.ExpirationDate.Format("2 Jan 2006"),
			"Categories": cats,
		})
	}
}

func pendingMessage(cfg MuxConfig, rec models.AccessRecord) messageData {
	switch rec.OAuthStatus {
	case models.OAuthPending:
		return messageData{
			Title:    "Connect your Google account",
			Message:  "Reports become available once you grant read access to your analytics data.",
			LinkURL:  access.DelegationURL(cfg.BaseURL, rec.Token),
			LinkText: "Continue with Google",
		}
	case models.OAuthAuthorized:
		return messageData{
			Title:   "Almost ready",
			Message: "Your Google account is connected. Reports appear once the dataset has been configured.",
		}
	default:
		return messageData{
			Title:   "Not ready yet",
			Message: "This link has not been set up with a dataset or any report categories yet.",
		}
	}
}

type queryRequest struct {
	Category  string `json:"category"`
	Report    string `json:"report"`
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
}

// HandleTokenQuery runs (or dry runs) a catalog report for a token
// holder, against the token's project and dataset.
func HandleTokenQuery(cfg MuxConfig, dryRun bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		rec, ok := cfg.Engine.Validate(r.URL.Query().Get("token"))
		if !ok || !rec.AllowsCategory(req.Category) {
			writeAccessDenied(w)
			return
		}

		if !rec.Servable(time.Now()) {
			writeJSONError(w, http.StatusConflict, "not_ready", "this token is not ready to run reports yet")
			return
		}

		report, found := cfg.Catalog.Report(req.Category, req.Report)
		if !found {
			writeJSONError(w, http.StatusNotFound, "not_found", "unknown report")
			return
		}

		client, err := tokenClient(r.Context(), cfg, rec)
		if err != nil {
			cfg.Logger.Error("building query client failed",
				slog.String("token", logging.TokenPrefix(rec.Token)),
				slog.String("error", err.Error()),
			)
			writeQueryError(w, err)

			return
		}
		defer client.Close()

		runReport(w, r, cfg, client, report, reports.QueryTarget{Project: rec.ProjectID, Dataset: rec.DatasetID}, dryRun)
	}
}

// tokenClient builds a client for a servable record: the delegated
// credential when there is one, the configured service credential
// otherwise.
func tokenClient(ctx context.Context, cfg MuxConfig, rec models.AccessRecord) (bigquery.Client, error) {
	if rec.OAuthStatus == models.OAuthConfigured {
		if rec.OAuthCredentials == nil {
			return nil, apperrors.ErrNoClient
		}

		return cfg.Factory.ForTokenSource(ctx, credential.TokenSource(ctx, *rec.OAuthCredentials), rec.ProjectID)
	}

	if len(cfg.ServiceAccountKey) == 0 {
		return nil, apperrors.ErrNoClient
	}

	return cfg.Factory.ForServiceCredential(ctx, cfg.ServiceAccountKey)
}

// runReport renders and executes report, writing rows or an estimate.
func runReport(w http.ResponseWriter, r *http.Request, cfg MuxConfig, client bigquery.Client, report reports.Report, target reports.QueryTarget, dryRun bool) {
	sql, err := report.Render(target)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if dryRun {
		est, err := client.DryRun(r.Context(), sql)
		if err != nil {
			writeQueryError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"report": report.ID, "estimate": est})

		return
	}

	res, err := client.Run(r.Context(), sql)
	if err != nil {
		cfg.Logger.Warn("query failed", slog.String("report", report.ID), slog.String("error", err.Error()))
		writeQueryError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"report": report.ID, "result": res})
}

func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNoClient):
		writeJSONError(w, http.StatusServiceUnavailable, "no_client", "no query credential is available for this request")
	case errors.Is(err, apperrors.ErrUpstream):
		writeJSONError(w, http.StatusBadGateway, "upstream_error", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}
