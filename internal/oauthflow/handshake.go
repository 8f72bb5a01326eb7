// Package oauthflow implements the two-step authorization-code
// handshake used to delegate a client's Google identity.
package oauthflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
)

// maxResponseBytes caps token and identity response reads.
const maxResponseBytes = 1 << 20

// Handshake builds authorization redirects and completes them.
type Handshake struct {
	cfg        Config
	states     *StateStore
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewHandshake creates a handshake for the given client config. If
// httpClient is nil, a client with the configured timeout is used.
func NewHandshake(cfg Config, states *StateStore, httpClient *http.Client, logger *slog.Logger) *Handshake {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Handshake{
		cfg:        cfg,
		states:     states,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Config returns the effective client config.
func (h *Handshake) Config() Config {
	return h.cfg
}

// BuildAuthorizationURL issues a fresh single-use state for the
// purpose and subject, and returns the provider redirect. Offline
// access and a consent prompt are always requested so a refresh token
// is issued and the account chooser is shown on every run.
func (h *Handshake) BuildAuthorizationURL(purpose Purpose, subject string, scopes []string) string {
	if len(scopes) == 0 {
		scopes = h.cfg.Scopes
	}

	state := h.states.Issue(purpose, subject)

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", h.cfg.ClientID)
	params.Set("redirect_uri", h.cfg.RedirectURL)
	params.Set("scope", strings.Join(scopes, " "))
	params.Set("state", state)
	params.Set("access_type", "offline")
	params.Set("prompt", "consent select_account")
	params.Set("include_granted_scopes", "true")

	sep := "?"
	if strings.Contains(h.cfg.AuthURL, "?") {
		sep = "&"
	}

	return h.cfg.AuthURL + sep + params.Encode()
}

// ConsumeState validates a callback state. Each state works once.
func (h *Handshake) ConsumeState(state string) (Purpose, string, error) {
	purpose, subject, ok := h.states.Consume(state)
	if !ok {
		return "", "", apperrors.ErrInvalidState
	}

	return purpose, subject, nil
}

// ExchangeCode trades an authorization code for a credential with a
// direct form POST to the token endpoint. The credential is built from
// the raw response so a provider that reorders or recases scopes does
// not fail validation. Non-200 responses return the provider's body.
func (h *Handshake) ExchangeCode(ctx context.Context, code string) (models.CredentialRecord, error) {
	if code == "" {
		return models.CredentialRecord{}, fmt.Errorf("exchanging code: code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", h.cfg.RedirectURL)
	form.Set("client_id", h.cfg.ClientID)
	form.Set("client_secret", h.cfg.ClientSecret)

	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.CredentialRecord{}, fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return models.CredentialRecord{}, fmt.Errorf("sending token request: %w: %w", apperrors.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.CredentialRecord{}, fmt.Errorf("reading token response: %w: %w", apperrors.ErrUpstream, err)
	}

	if resp.StatusCode != http.StatusOK {
		return models.CredentialRecord{}, fmt.Errorf("token endpoint returned status %d: %s: %w",
			resp.StatusCode, sanitizeResponseBody(body), apperrors.ErrUpstream)
	}

	if !gjson.ValidBytes(body) {
		return models.CredentialRecord{}, fmt.Errorf("token endpoint returned invalid JSON: %s: %w",
			sanitizeResponseBody(body), apperrors.ErrUpstream)
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return models.CredentialRecord{}, fmt.Errorf("token endpoint response missing access_token: %w", apperrors.ErrUpstream)
	}

	rec := models.CredentialRecord{
		Token:        accessToken,
		RefreshToken: gjson.GetBytes(body, "refresh_token").String(),
		TokenURI:     h.cfg.TokenURL,
		ClientID:     h.cfg.ClientID,
		ClientSecret: h.cfg.ClientSecret,
		Scopes:       NormalizeScopes(strings.Fields(gjson.GetBytes(body, "scope").String())),
	}

	if len(rec.Scopes) == 0 {
		rec.Scopes = slices.Clone(h.cfg.Scopes)
	}

	if expiresIn := gjson.GetBytes(body, "expires_in").Int(); expiresIn > 0 {
		rec.Expiry = h.now().UTC().Add(time.Duration(expiresIn) * time.Second)
	}

	h.logger.Info("oauth code exchanged",
		slog.Bool("refresh_token", rec.RefreshToken != ""),
		slog.Int("scopes", len(rec.Scopes)),
	)

	return rec, nil
}

// FetchIdentity returns the user's email and name. It never fails:
// identity is display-only, so any error yields PlaceholderIdentity.
func (h *Handshake) FetchIdentity(ctx context.Context, accessToken string) models.Identity {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.UserInfoURL, nil)
	if err != nil {
		h.logger.Debug("identity request build failed", slog.String("error", err.Error()))
		return models.PlaceholderIdentity
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Debug("identity fetch failed", slog.String("error", err.Error()))
		return models.PlaceholderIdentity
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil || resp.StatusCode != http.StatusOK || !gjson.ValidBytes(body) {
		h.logger.Debug("identity fetch returned no usable body", slog.Int("status", resp.StatusCode))
		return models.PlaceholderIdentity
	}

	id := models.Identity{
		Email:   gjson.GetBytes(body, "email").String(),
		Name:    gjson.GetBytes(body, "name").String(),
		Picture: gjson.GetBytes(body, "picture").String(),
	}

	if id.Email == "" {
		id.Email = models.PlaceholderIdentity.Email
	}

	if id.Name == "" {
		id.Name = id.Email
	}

	return id
}

// NormalizeScopes trims and de-duplicates scopes case-insensitively,
// keeping the first spelling seen, and sorts the result.
func NormalizeScopes(scopes []string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))

	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		key := fold.String(s)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		out = append(out, s)
	}

	slices.Sort(out)

	return out
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 512 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 512
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, ' ')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return strings.TrimSpace(string(clean))
}
