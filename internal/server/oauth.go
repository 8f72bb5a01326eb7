package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/access"
	"github.com/alexjbarnes/ga4-reports/internal/logging"
	"github.com/alexjbarnes/ga4-reports/internal/models"
	"github.com/alexjbarnes/ga4-reports/internal/oauthflow"
	"github.com/alexjbarnes/ga4-reports/internal/session"
)

// HandleOAuthCallback completes a handshake started either by a token
// holder (delegation) or by an admin signing in to the dashboard.
// The state value is consumed first so it can never be replayed, even
// when the provider reports an error.
func HandleOAuthCallback(cfg MuxConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		purpose, subject, err := cfg.Handshake.ConsumeState(q.Get("state"))
		if err != nil {
			cfg.Logger.Warn("oauth callback with invalid state", slog.String("ip", remoteIP(r)))
			renderMessage(w, http.StatusBadRequest, messageData{
				Title: "Sign-in expired",
				Error: "This sign-in link is invalid or has already been used. Start again from your original link.",
			})

			return
		}

		if providerErr := q.Get("error"); providerErr != "" {
			cfg.Logger.Info("oauth provider returned error",
				slog.String("purpose", string(purpose)),
				slog.String("error", providerErr),
			)
			renderMessage(w, http.StatusBadRequest, messageData{
				Title: "Sign-in cancelled",
				Error: "Google returned: " + providerErr,
			})

			return
		}

		code := q.Get("code")
		if code == "" {
			renderMessage(w, http.StatusBadRequest, messageData{Title: "Sign-in failed", Error: "missing authorization code"})
			return
		}

		switch purpose {
		case oauthflow.PurposeDelegation:
			completeDelegation(w, r, cfg, subject, code)
		case oauthflow.PurposeLogin:
			completeLogin(w, r, cfg, subject, code)
		default:
			renderMessage(w, http.StatusBadRequest, messageData{Title: "Sign-in failed", Error: "unknown sign-in purpose"})
		}
	}
}

func completeDelegation(w http.ResponseWriter, r *http.Request, cfg MuxConfig, token, code string) {
	rec, ok := cfg.Engine.Get(token)
	if !ok || !rec.Active || rec.Expired(time.Now()) || rec.OAuthStatus == models.OAuthNotRequired {
		renderAccessDenied(w)
		return
	}

	cred, err := cfg.Handshake.ExchangeCode(r.Context(), code)
	if err != nil {
		cfg.Logger.Error("delegation code exchange failed",
			slog.String("token", logging.TokenPrefix(token)),
			slog.String("error", err.Error()),
		)
		renderMessage(w, http.StatusBadGateway, messageData{
			Title:    "Could not connect your account",
			Error:    err.Error(),
			LinkURL:  access.DelegationURL(cfg.BaseURL, token),
			LinkText: "Try again",
		})

		return
	}

	if cred.RefreshToken == "" {
		cfg.Logger.Warn("delegated credential has no refresh token",
			slog.String("token", logging.TokenPrefix(token)),
		)
	}

	identity := cfg.Handshake.FetchIdentity(r.Context(), cred.Token)

	attached, err := cfg.Engine.AttachDelegatedCredentials(token, cred, identity.Email)
	if !attached {
		renderAccessDenied(w)
		return
	}

	if _, err := persistenceWarning(err, cfg.Logger); err != nil {
		cfg.Logger.Error("attaching credentials failed", slog.String("error", err.Error()))
	}

	renderMessage(w, http.StatusOK, messageData{
		Title:    "Account connected",
		Message:  "Thanks " + identity.Name + ". Your reports will be available at your access link once setup is complete.",
		LinkURL:  access.AccessURL(cfg.BaseURL, token),
		LinkText: "Open reports",
	})
}

func completeLogin(w http.ResponseWriter, r *http.Request, cfg MuxConfig, sessionID, code string) {
	c, err := r.Cookie(session.CookieName)
	if err != nil || c.Value != sessionID {
		cfg.Logger.Warn("login callback from a different browser session", slog.String("ip", remoteIP(r)))
		renderMessage(w, http.StatusBadRequest, messageData{Title: "Sign-in failed", Error: "session mismatch, start the sign-in again"})

		return
	}

	sess, ok := cfg.Sessions.Get(sessionID)
	if !ok {
		renderMessage(w, http.StatusBadRequest, messageData{Title: "Sign-in failed", Error: "session expired, start the sign-in again"})
		return
	}

	cred, err := cfg.Handshake.ExchangeCode(r.Context(), code)
	if err != nil {
		cfg.Logger.Error("login code exchange failed", slog.String("error", err.Error()))
		renderMessage(w, http.StatusBadGateway, messageData{Title: "Sign-in failed", Error: err.Error()})

		return
	}

	identity := cfg.Handshake.FetchIdentity(r.Context(), cred.Token)

	if err := sess.StartOAuthSession(r.Context(), cred, identity); err != nil {
		cfg.Logger.Error("starting oauth session failed", slog.String("error", err.Error()))
		renderMessage(w, http.StatusBadGateway, messageData{Title: "Sign-in failed", Error: err.Error()})

		return
	}

	http.Redirect(w, r, cfg.BaseURL+"/session", http.StatusFound)
}
