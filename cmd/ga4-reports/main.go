package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/access"
	"github.com/alexjbarnes/ga4-reports/internal/bigquery"
	"github.com/alexjbarnes/ga4-reports/internal/config"
	"github.com/alexjbarnes/ga4-reports/internal/logging"
	"github.com/alexjbarnes/ga4-reports/internal/models"
	"github.com/alexjbarnes/ga4-reports/internal/oauthflow"
	"github.com/alexjbarnes/ga4-reports/internal/reports"
	"github.com/alexjbarnes/ga4-reports/internal/secrets"
	"github.com/alexjbarnes/ga4-reports/internal/server"
	"github.com/alexjbarnes/ga4-reports/internal/session"
	"github.com/alexjbarnes/ga4-reports/internal/state"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Subcommands run before the server config is loaded.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-password":
			hashPassword()
			return
		case "export":
			exitOnError(exportTokens(os.Stdout))
			return
		case "import":
			if len(os.Args) < 3 {
				fmt.Fprintln(os.Stderr, "usage: ga4-reports import <file|->")
				os.Exit(2)
			}

			exitOnError(importTokens(os.Args[2]))

			return
		}
	}

	exitOnError(run())
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func hashPassword() {
	fmt.Fprint(os.Stderr, "Enter password: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Fprintln(os.Stderr, "no input")
		os.Exit(1)
	}
	password := scanner.Text()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}

// openState opens the configured database, or the default one.
func openState(path string) (*state.State, error) {
	if path == "" {
		return state.Load()
	}

	return state.LoadAt(path)
}

// exportTokens writes the stored token table to w. The server must
// not be running: bbolt holds an exclusive lock on the file.
func exportTokens(w io.Writer) error {
	sc, err := config.LoadStore()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := openState(sc.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	table, err := st.AllAccessRecords()
	if err != nil {
		return err
	}

	blob, err := models.EncodeAccessTable(table)
	if err != nil {
		return err
	}

	_, err = w.Write(append(blob, '\n'))

	return err
}

// importTokens replaces the stored token table with the blob at path
// ("-" reads stdin).
func importTokens(path string) error {
	var (
		blob []byte
		err  error
	)

	if path == "-" {
		blob, err = io.ReadAll(os.Stdin)
	} else {
		blob, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading import: %w", err)
	}

	table, err := models.DecodeAccessTable(blob)
	if err != nil {
		return err
	}

	sc, err := config.LoadStore()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := openState(sc.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer st.Close()

	if err := st.ReplaceAccessRecords(table); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "imported %d tokens\n", len(table))

	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("ga4-reports starting",
		slog.String("version", Version),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := openState(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	if n, err := appState.SeedIfFresh(ctx, seedSource(cfg)); err != nil {
		logger.Warn("seeding token table failed, starting empty", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("token table seeded", slog.Int("tokens", n))
	}

	catalog, err := reports.Load(cfg.ReportCatalogFile, logger)
	if err != nil {
		return fmt.Errorf("loading report catalog: %w", err)
	}

	engine := access.NewEngine(appState, catalog, logger)

	oauthCfg, err := handshakeConfig(cfg)
	if err != nil {
		return err
	}

	states := oauthflow.NewStateStore()
	defer states.Stop()

	handshake := oauthflow.NewHandshake(oauthCfg, states, nil, logger)

	factory := bigquery.NewFactory(0, logger)

	sessions := session.NewRegistry(factory, cfg.DefaultProjectID, cfg.OAuthTimeout, logger)
	defer sessions.Stop()

	var serviceKey []byte
	if cfg.ServiceAccountFile != "" {
		serviceKey, err = os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return fmt.Errorf("reading service account file: %w", err)
		}

		if _, err := bigquery.ServiceCredentialProject(serviceKey); err != nil {
			return fmt.Errorf("service account file: %w", err)
		}
	}

	users, err := cfg.ParseAdminUsers()
	if err != nil {
		return fmt.Errorf("parsing admin users: %w", err)
	}

	mux := server.NewMux(server.MuxConfig{
		Engine:                engine,
		Catalog:               catalog,
		Handshake:             handshake,
		Sessions:              sessions,
		Factory:               factory,
		Logger:                logger,
		AdminUsers:            users,
		ServiceAccountKey:     serviceKey,
		BaseURL:               cfg.BaseURL,
		DefaultExpirationDays: cfg.DefaultExpirationDays,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return catalog.Watch(gctx)
	})

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("listen", cfg.ListenAddr),
			slog.Int("admin_users", len(users)),
			slog.Int("tokens", appState.AccessRecordCount()),
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("ga4-reports stopped")

	return nil
}

// seedSource picks where a fresh database is seeded from: Secret
// Manager when configured, then a local file, otherwise nothing.
func seedSource(cfg *config.Config) state.SeedSource {
	switch {
	case cfg.SeedSecretProject != "":
		return secrets.NewSecretManagerSource(cfg.SeedSecretProject, cfg.SeedSecretName)
	case cfg.SeedFile != "":
		return secrets.FileSource{Path: cfg.SeedFile}
	default:
		return nil
	}
}

// handshakeConfig builds the OAuth client from a client secrets file
// or from the id and secret. Endpoint overrides apply to both.
func handshakeConfig(cfg *config.Config) (oauthflow.Config, error) {
	var oc oauthflow.Config

	if cfg.OAuthClientSecretsFile != "" {
		data, err := os.ReadFile(cfg.OAuthClientSecretsFile)
		if err != nil {
			return oauthflow.Config{}, fmt.Errorf("reading OAuth client secrets: %w", err)
		}

		oc, err = oauthflow.ConfigFromClientSecrets(data, cfg.RedirectURL(), cfg.OAuthScopes)
		if err != nil {
			return oauthflow.Config{}, err
		}
	} else {
		oc = oauthflow.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.RedirectURL(),
			Scopes:       cfg.OAuthScopes,
		}
	}

	if cfg.OAuthAuthURL != "" {
		oc.AuthURL = cfg.OAuthAuthURL
	}

	if cfg.OAuthTokenURL != "" {
		oc.TokenURL = cfg.OAuthTokenURL
	}

	if cfg.OAuthUserInfoURL != "" {
		oc.UserInfoURL = cfg.OAuthUserInfoURL
	}

	oc.Timeout = cfg.OAuthTimeout

	return oc, nil
}
