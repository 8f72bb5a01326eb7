package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "$2a$10$abcdefghijklmnopqrstuu5Gq2OQ3xF3m8B4eY4Qn9cV7vQf0m1xW"

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"ENVIRONMENT",
		"LOG_LEVEL",
		"LISTEN_ADDR",
		"BASE_URL",
		"STATE_PATH",
		"SEED_SECRET_PROJECT",
		"SEED_SECRET_NAME",
		"SEED_FILE",
		"OAUTH_CLIENT_SECRETS_FILE",
		"OAUTH_CLIENT_ID",
		"OAUTH_CLIENT_SECRET",
		"OAUTH_AUTH_URL",
		"OAUTH_TOKEN_URL",
		"OAUTH_USERINFO_URL",
		"OAUTH_SCOPES",
		"OAUTH_TIMEOUT",
		"DEFAULT_PROJECT_ID",
		"SERVICE_ACCOUNT_FILE",
		"ADMIN_USERS",
		"REPORT_CATALOG_FILE",
		"DEFAULT_EXPIRATION_DAYS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setRequiredEnv sets the minimum env vars for a valid config.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BASE_URL", "https://reports.example.com/")
	t.Setenv("ADMIN_USERS", "alex:"+testHash)
	t.Setenv("OAUTH_CLIENT_ID", "cid")
	t.Setenv("OAUTH_CLIENT_SECRET", "csec")
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "https://reports.example.com", cfg.BaseURL)
	assert.Equal(t, "https://reports.example.com/oauth/callback", cfg.RedirectURL())
	assert.Equal(t, 15*time.Second, cfg.OAuthTimeout)
	assert.Equal(t, 30, cfg.DefaultExpirationDays)
	assert.Empty(t, cfg.OAuthScopes)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	clearConfigEnv(t)
	setRequiredEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OAUTH_SCOPES", "openid,https://www.googleapis.com/auth/bigquery.readonly")
	t.Setenv("OAUTH_TIMEOUT", "3s")
	t.Setenv("DEFAULT_EXPIRATION_DAYS", "7")
	t.Setenv("STATE_PATH", "relative/state.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"openid", "https://www.googleapis.com/auth/bigquery.readonly"}, cfg.OAuthScopes)
	assert.Equal(t, 3*time.Second, cfg.OAuthTimeout)
	assert.Equal(t, 7, cfg.DefaultExpirationDays)
	assert.True(t, filepath.IsAbs(cfg.StatePath))
}

func TestLoad_ClientSecretsFileInsteadOfID(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BASE_URL", "https://reports.example.com")
	t.Setenv("ADMIN_USERS", "alex:"+testHash)
	t.Setenv("OAUTH_CLIENT_SECRETS_FILE", "/etc/ga4/client.json")

	_, err := Load()
	require.NoError(t, err)
}

func TestLoad_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"missing base url", "BASE_URL", "", "BASE_URL"},
		{"relative base url", "BASE_URL", "/reports", "BASE_URL"},
		{"missing admin users", "ADMIN_USERS", "", "ADMIN_USERS"},
		{"plain password", "ADMIN_USERS", "alex:hunter2", "bcrypt"},
		{"missing client secret", "OAUTH_CLIENT_SECRET", "", "OAUTH_CLIENT"},
		{"half seed secret", "SEED_SECRET_PROJECT", "proj", "SEED_SECRET"},
		{"negative expiration", "DEFAULT_EXPIRATION_DAYS", "-1", "DEFAULT_EXPIRATION_DAYS"},
		{"expiration too far", "DEFAULT_EXPIRATION_DAYS", "36501", "DEFAULT_EXPIRATION_DAYS"},
		{"zero timeout", "OAUTH_TIMEOUT", "0s", "OAUTH_TIMEOUT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			setRequiredEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseAdminUsers(t *testing.T) {
	cfg := &Config{AdminUsers: "alex:" + testHash + ", sam:" + testHash + ","}

	users, err := cfg.ParseAdminUsers()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alex": testHash, "sam": testHash}, users)
}

func TestParseAdminUsers_Rejects(t *testing.T) {
	for _, raw := range []string{
		"alex",
		":" + testHash,
		"alex:",
		"alex:" + testHash + ",alex:" + testHash,
		" , ",
	} {
		cfg := &Config{AdminUsers: raw}
		_, err := cfg.ParseAdminUsers()
		assert.Error(t, err, raw)
	}
}

func TestLoadStore_IgnoresServerSettings(t *testing.T) {
	clearConfigEnv(t)

	s, err := LoadStore()
	require.NoError(t, err)
	assert.Empty(t, s.StatePath)

	t.Setenv("STATE_PATH", "relative/state.db")

	s, err = LoadStore()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(s.StatePath))
	assert.Equal(t, "state.db", filepath.Base(s.StatePath))
}
