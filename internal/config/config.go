package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for ga4-reports.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// BaseURL is the externally visible URL. Access links and the OAuth
	// redirect URI are built from it.
	BaseURL string `env:"BASE_URL"`

	// StatePath is the bbolt database holding the token table. Defaults
	// to ~/.ga4-reports/state.db.
	StatePath string `env:"STATE_PATH"`

	// Seed sources for a freshly created state database. Secret Manager
	// wins when both are set.
	SeedSecretProject string `env:"SEED_SECRET_PROJECT"`
	SeedSecretName    string `env:"SEED_SECRET_NAME"`
	SeedFile          string `env:"SEED_FILE"`

	// OAuth client. Either a client secrets file or an id and secret.
	OAuthClientSecretsFile string        `env:"OAUTH_CLIENT_SECRETS_FILE"`
	OAuthClientID          string        `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret      string        `env:"OAUTH_CLIENT_SECRET"`
	OAuthAuthURL           string        `env:"OAUTH_AUTH_URL"`
	OAuthTokenURL          string        `env:"OAUTH_TOKEN_URL"`
	OAuthUserInfoURL       string        `env:"OAUTH_USERINFO_URL"`
	OAuthScopes            []string      `env:"OAUTH_SCOPES" envSeparator:","`
	OAuthTimeout           time.Duration `env:"OAUTH_TIMEOUT" envDefault:"15s"`

	// DefaultProjectID bills OAuth sessions whose identity lists no
	// projects.
	DefaultProjectID string `env:"DEFAULT_PROJECT_ID"`

	// ServiceAccountFile backs the "configured secret" login.
	ServiceAccountFile string `env:"SERVICE_ACCOUNT_FILE"`

	// AdminUsers is "user:bcrypt_hash,user2:bcrypt_hash".
	AdminUsers string `env:"ADMIN_USERS"`

	ReportCatalogFile     string `env:"REPORT_CATALOG_FILE"`
	DefaultExpirationDays int    `env:"DEFAULT_EXPIRATION_DAYS" envDefault:"30"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.StatePath != "" {
		abs, err := filepath.Abs(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		cfg.StatePath = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BASE_URL must be an absolute http(s) URL")
	}

	if c.AdminUsers == "" {
		return fmt.Errorf("ADMIN_USERS is required")
	}

	if _, err := c.ParseAdminUsers(); err != nil {
		return err
	}

	if c.OAuthClientSecretsFile == "" && (c.OAuthClientID == "" || c.OAuthClientSecret == "") {
		return fmt.Errorf("either OAUTH_CLIENT_SECRETS_FILE or both OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required")
	}

	if (c.SeedSecretProject == "") != (c.SeedSecretName == "") {
		return fmt.Errorf("SEED_SECRET_PROJECT and SEED_SECRET_NAME must be set together")
	}

	if c.OAuthTimeout <= 0 {
		return fmt.Errorf("OAUTH_TIMEOUT must be positive")
	}

	if c.DefaultExpirationDays < 0 || c.DefaultExpirationDays > models.MaxExpirationDays {
		return fmt.Errorf("DEFAULT_EXPIRATION_DAYS must be between 0 and %d", models.MaxExpirationDays)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RedirectURL is the OAuth callback registered with the provider.
func (c *Config) RedirectURL() string {
	return c.BaseURL + "/oauth/callback"
}

// ParseAdminUsers parses the ADMIN_USERS string into a map of
// username to bcrypt hash.
// Format: "user1:$2a$10$...,user2:$2a$10$..."
func (c *Config) ParseAdminUsers() (map[string]string, error) {
	users := make(map[string]string)

	for _, pair := range strings.Split(c.AdminUsers, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		// bcrypt hashes never contain ':' so the first one separates.
		username, hash, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid admin user entry (missing ':')")
		}

		if username == "" || hash == "" {
			return nil, fmt.Errorf("empty username or hash in entry %d", len(users)+1)
		}

		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("admin user %q: password must be a bcrypt hash (see hash-password)", username)
		}

		if _, dup := users[username]; dup {
			return nil, fmt.Errorf("duplicate username %q in ADMIN_USERS", username)
		}

		users[username] = hash
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("ADMIN_USERS has no entries")
	}

	return users, nil
}

// Store is the configuration the offline export and import commands
// need. They run without the server's required settings.
type Store struct {
	StatePath string `env:"STATE_PATH"`
}

// LoadStore reads only the state database location.
func LoadStore() (*Store, error) {
	_ = godotenv.Load()

	s := &Store{}
	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if s.StatePath != "" {
		abs, err := filepath.Abs(s.StatePath)
		if err != nil {
			return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
		}

		s.StatePath = abs
	}

	return s, nil
}
