// Package session binds a dashboard caller to one authentication
// method and a ready-to-use query client.
package session

//go:generate mockgen -source=session.go -destination=mock_factory_test.go -package=session
//go:generate mockgen -destination=mock_client_test.go -package=session github.com/alexjbarnes/ga4-reports/internal/bigquery Client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/bigquery"
	"github.com/alexjbarnes/ga4-reports/internal/credential"
	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/models"
	"golang.org/x/oauth2"
)

// Method is how a session authenticated.
type Method string

const (
	MethodOAuth            Method = "oauth"
	MethodJSONUpload       Method = "json_upload"
	MethodConfiguredSecret Method = "configured_secret"
)

// expiryLead refreshes a credential shortly before it actually lapses.
const expiryLead = time.Minute

// ClientFactory builds query clients. Implemented by bigquery.Factory.
type ClientFactory interface {
	ForTokenSource(ctx context.Context, ts oauth2.TokenSource, projectID string) (bigquery.Client, error)
	ForServiceCredential(ctx context.Context, data []byte) (bigquery.Client, error)
	ListProjects(ctx context.Context, ts oauth2.TokenSource) ([]string, error)
}

// Snapshot is a read-only view of a session for display.
type Snapshot struct {
	ID               string          `json:"id"`
	Authenticated    bool            `json:"authenticated"`
	Method           Method          `json:"method,omitempty"`
	ProjectID        string          `json:"project_id,omitempty"`
	Identity         models.Identity `json:"identity"`
	HasClient        bool            `json:"has_client"`
	CredentialExpiry time.Time       `json:"credential_expiry,omitzero"`
}

// Session is one caller's authentication context. All fields change
// together under mu so a half-built or half-refreshed state is never
// visible.
type Session struct {
	id             string
	factory        ClientFactory
	defaultProject string
	timeout        time.Duration
	logger         *slog.Logger
	now            func() time.Time
	refresh        func(context.Context, models.CredentialRecord) (models.CredentialRecord, error)

	mu            sync.Mutex
	authenticated bool
	method        Method
	cred          *models.CredentialRecord
	projectID     string
	client        bigquery.Client
	identity      models.Identity
	lastSeen      time.Time
}

func newSession(id string, factory ClientFactory, defaultProject string, timeout time.Duration, logger *slog.Logger) *Session {
	return &Session{
		id:             id,
		factory:        factory,
		defaultProject: defaultProject,
		timeout:        timeout,
		logger:         logger,
		now:            time.Now,
		refresh:        credential.Refresh,
		lastSeen:       time.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// StartOAuthSession binds an end-user credential. The billing project
// is the first project the credential can list, else the configured
// default. With neither, the session is authenticated but has no
// client. On error the previous state is left as it was.
func (s *Session) StartOAuthSession(ctx context.Context, cred models.CredentialRecord, identity models.Identity) error {
	ts := oauth2.StaticTokenSource(credential.Token(cred))

	projectID := s.resolveProject(ctx, ts)

	var client bigquery.Client

	if projectID != "" {
		c, err := s.factory.ForTokenSource(ctx, ts, projectID)
		if err != nil {
			return fmt.Errorf("starting oauth session: %w", err)
		}

		client = c
	} else {
		s.logger.Warn("oauth session has no project, no query client bound",
			slog.String("email", identity.Email),
		)
	}

	c := cred.Clone()
	s.swap(MethodOAuth, &c, projectID, client, identity)

	s.logger.Info("oauth session started",
		slog.String("email", identity.Email),
		slog.String("project", projectID),
	)

	return nil
}

func (s *Session) resolveProject(ctx context.Context, ts oauth2.TokenSource) string {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	projects, err := s.factory.ListProjects(ctx, ts)
	if err != nil {
		s.logger.Warn("listing projects failed, using default project",
			slog.String("error", err.Error()),
			slog.String("default_project", s.defaultProject),
		)

		return s.defaultProject
	}

	if len(projects) == 0 {
		return s.defaultProject
	}

	return projects[0]
}

// StartServiceCredentialSession binds a service account key. The
// project is taken from the key.
func (s *Session) StartServiceCredentialSession(ctx context.Context, data []byte, method Method) error {
	if method != MethodJSONUpload && method != MethodConfiguredSecret {
		return fmt.Errorf("starting service credential session: method %q is not a service credential method", method)
	}

	client, err := s.factory.ForServiceCredential(ctx, data)
	if err != nil {
		return fmt.Errorf("starting service credential session: %w", err)
	}

	identity := models.Identity{
		Email: bigquery.ServiceCredentialEmail(data),
		Name:  "Service account",
	}

	s.swap(method, nil, client.ProjectID(), client, identity)

	s.logger.Info("service credential session started",
		slog.String("method", string(method)),
		slog.String("project", client.ProjectID()),
	)

	return nil
}

// swap installs a complete new state and closes the old client.
func (s *Session) swap(method Method, cred *models.CredentialRecord, projectID string, client bigquery.Client, identity models.Identity) {
	s.mu.Lock()
	old := s.client
	s.authenticated = true
	s.method = method
	s.cred = cred
	s.projectID = projectID
	s.client = client
	s.identity = identity
	s.mu.Unlock()

	closeClient(old, s.logger)
}

// Client returns the bound query client. It may be nil even for an
// authenticated session.
func (s *Session) Client() bigquery.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client
}

// Credential returns a copy of the stored OAuth credential.
func (s *Session) Credential() (models.CredentialRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil {
		return models.CredentialRecord{}, false
	}

	return s.cred.Clone(), true
}

// RefreshIfNeeded renews an expired OAuth credential and rebuilds the
// client against the same project. If the refresh fails the session is
// logged out. Service credential sessions need nothing.
func (s *Session) RefreshIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authenticated {
		return apperrors.ErrNotAuthenticated
	}

	if s.method != MethodOAuth || s.cred == nil {
		return nil
	}

	if !credential.Expired(*s.cred, s.now().Add(expiryLead)) {
		return nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.timeout)
	refreshed, err := s.refresh(refreshCtx, *s.cred)
	cancel()
	if err != nil {
		s.logger.Warn("credential refresh failed, logging out", slog.String("error", err.Error()))
		s.clearLocked()

		return fmt.Errorf("refreshing session: %w", err)
	}

	var client bigquery.Client

	if s.projectID != "" {
		client, err = s.factory.ForTokenSource(ctx, oauth2.StaticTokenSource(credential.Token(refreshed)), s.projectID)
		if err != nil {
			s.logger.Warn("rebuilding query client failed, logging out", slog.String("error", err.Error()))
			s.clearLocked()

			return fmt.Errorf("refreshing session: %w", err)
		}
	}

	closeClient(s.client, s.logger)

	s.cred = &refreshed
	s.client = client

	s.logger.Debug("session credential refreshed", slog.Time("expiry", refreshed.Expiry))

	return nil
}

// Logout clears every field. IsAuthenticated is false afterwards.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
}

func (s *Session) clearLocked() {
	closeClient(s.client, s.logger)

	s.authenticated = false
	s.method = ""
	s.cred = nil
	s.projectID = ""
	s.client = nil
	s.identity = models.Identity{}
}

// IsAuthenticated reports whether a Start call succeeded since the
// last logout.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.authenticated
}

// Snapshot returns the display view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.id,
		Authenticated: s.authenticated,
		Method:        s.method,
		ProjectID:     s.projectID,
		Identity:      s.identity,
		HasClient:     s.client != nil,
	}

	if s.cred != nil {
		snap.CredentialExpiry = s.cred.Expiry
	}

	return snap
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSeen
}

func closeClient(c bigquery.Client, logger *slog.Logger) {
	if c == nil {
		return
	}

	if err := c.Close(); err != nil {
		logger.Debug("closing query client", slog.String("error", err.Error()))
	}
}
