package oauthflow

import (
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// GoogleUserInfoURL returns the signed-in user's email and name.
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

	defaultTimeout = 15 * time.Second
)

// DefaultScopes lets the dashboard list projects and read BigQuery
// datasets, plus basic identity for display.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/bigquery.readonly",
	"https://www.googleapis.com/auth/cloud-platform.read-only",
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Config describes the OAuth client and provider endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string

	// Timeout bounds every outbound call made by the handshake.
	Timeout time.Duration
}

// ConfigFromClientSecrets parses a Google client secrets file (the
// "web" or "installed" JSON downloaded from the console).
func ConfigFromClientSecrets(data []byte, redirectURL string, scopes []string) (Config, error) {
	oc, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return Config{}, fmt.Errorf("parsing client secrets: %w", err)
	}

	return Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		AuthURL:      oc.Endpoint.AuthURL,
		TokenURL:     oc.Endpoint.TokenURL,
		RedirectURL:  redirectURL,
		Scopes:       slices.Clone(scopes),
	}, nil
}

// withDefaults fills unset endpoints with Google's.
func (c Config) withDefaults() Config {
	if c.AuthURL == "" {
		c.AuthURL = google.Endpoint.AuthURL
	}

	if c.TokenURL == "" {
		c.TokenURL = google.Endpoint.TokenURL
	}

	if c.UserInfoURL == "" {
		c.UserInfoURL = GoogleUserInfoURL
	}

	if len(c.Scopes) == 0 {
		c.Scopes = slices.Clone(DefaultScopes)
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	return c
}

// OAuth2 returns the equivalent oauth2.Config.
func (c Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       slices.Clone(c.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
