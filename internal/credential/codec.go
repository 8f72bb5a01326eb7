// Package credential converts between live oauth2 credentials and the
// serializable CredentialRecord stored on access records and sessions.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/models"
	"golang.org/x/oauth2"
)

// FromToken snapshots a live token together with the client config
// that issued it.
func FromToken(tok *oauth2.Token, cfg *oauth2.Config) models.CredentialRecord {
	rec := models.CredentialRecord{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry.UTC(),
	}

	if tok.Expiry.IsZero() {
		rec.Expiry = time.Time{}
	}

	if cfg != nil {
		rec.TokenURI = cfg.Endpoint.TokenURL
		rec.ClientID = cfg.ClientID
		rec.ClientSecret = cfg.ClientSecret
		rec.Scopes = slices.Clone(cfg.Scopes)
	}

	return rec
}

// Token rebuilds the live token from a record.
func Token(rec models.CredentialRecord) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  rec.Token,
		TokenType:    "Bearer",
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.Expiry,
	}
}

// Config rebuilds the client config needed to refresh the record.
func Config(rec models.CredentialRecord) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     rec.ClientID,
		ClientSecret: rec.ClientSecret,
		Scopes:       slices.Clone(rec.Scopes),
		Endpoint: oauth2.Endpoint{
			TokenURL:  rec.TokenURI,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Encode serializes a record to JSON.
func Encode(rec models.CredentialRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding credential: %w", err)
	}

	return data, nil
}

// Decode parses a JSON credential. A record without an access token
// is rejected.
func Decode(data []byte) (models.CredentialRecord, error) {
	var rec models.CredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.CredentialRecord{}, fmt.Errorf("decoding credential: %w", err)
	}

	if strings.TrimSpace(rec.Token) == "" {
		return models.CredentialRecord{}, fmt.Errorf("decoding credential: access token is empty")
	}

	return rec, nil
}

// Expired reports whether the access token is past its expiry. A zero
// expiry means the provider did not say, and is treated as valid.
func Expired(rec models.CredentialRecord, now time.Time) bool {
	if rec.Expiry.IsZero() {
		return false
	}

	return !now.Before(rec.Expiry)
}

// Refresh exchanges the refresh token for a new access token. The
// previous refresh token is kept when the provider does not rotate it.
// Use oauth2.HTTPClient in ctx to override the transport.
func Refresh(ctx context.Context, rec models.CredentialRecord) (models.CredentialRecord, error) {
	if rec.RefreshToken == "" {
		return models.CredentialRecord{}, apperrors.ErrNoRefreshToken
	}

	cfg := Config(rec)

	// Only the refresh token is passed so the source always refreshes.
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rec.RefreshToken}).Token()
	if err != nil {
		return models.CredentialRecord{}, fmt.Errorf("refreshing credential: %w: %w", apperrors.ErrUpstream, err)
	}

	refreshed := FromToken(tok, cfg)
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = rec.RefreshToken
	}

	return refreshed, nil
}

// TokenSource returns a source that refreshes automatically for the
// lifetime of ctx.
func TokenSource(ctx context.Context, rec models.CredentialRecord) oauth2.TokenSource {
	return Config(rec).TokenSource(ctx, Token(rec))
}
