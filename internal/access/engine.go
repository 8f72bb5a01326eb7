// Package access owns the table of issued dashboard access tokens:
// their expiry and revocation, the delegation sub-state machine, and
// the flush of every mutation to the durable layer.
package access

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/alexjbarnes/ga4-reports/internal/logging"
	"github.com/alexjbarnes/ga4-reports/internal/models"
)

// tokenBytes is the entropy of a generated access token.
const tokenBytes = 32

// Persister is the durable layer behind the in-memory table.
type Persister interface {
	SaveAccessRecord(r models.AccessRecord) error
	DeleteAccessRecord(token string) error
	AllAccessRecords() (map[string]models.AccessRecord, error)
	ReplaceAccessRecords(table map[string]models.AccessRecord) error
}

// CategorySource lists the report categories a token may be granted.
type CategorySource interface {
	Categories() []string
}

// CreateParams describes a token to mint.
type CreateParams struct {
	ClientName        string
	ProjectID         string
	DatasetID         string
	Categories        []string
	ExpirationDays    int
	Notes             string
	RequireDelegation bool
}

// Engine is the token lifecycle and delegation engine. The in-memory
// table is authoritative for the life of the process; it is loaded
// from the durable layer on first use.
type Engine struct {
	mu      sync.Mutex
	records map[string]*models.AccessRecord

	persist  Persister
	catalog  CategorySource
	logger   *slog.Logger
	now      func() time.Time
	loadOnce sync.Once
}

// NewEngine creates an engine. persist and catalog may be nil: without
// a persister mutations stay in memory, and without a catalog any
// category name is accepted.
func NewEngine(persist Persister, catalog CategorySource, logger *slog.Logger) *Engine {
	return &Engine{
		records: make(map[string]*models.AccessRecord),
		persist: persist,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// ensureLoaded rehydrates the table once. Caller must hold e.mu.
func (e *Engine) ensureLoaded() {
	e.loadOnce.Do(func() {
		if e.persist == nil {
			return
		}

		table, err := e.persist.AllAccessRecords()
		if err != nil {
			e.logger.Error("loading access tokens failed, starting empty", slog.String("error", err.Error()))
			return
		}

		for token, r := range table {
			rec := r
			e.records[token] = &rec
		}

		e.logger.Info("access tokens loaded", slog.Int("count", len(table)))
	})
}

// flush writes one record to the durable layer. Caller must hold e.mu.
func (e *Engine) flush(r *models.AccessRecord) error {
	if e.persist == nil {
		return nil
	}

	if err := e.persist.SaveAccessRecord(*r); err != nil {
		return fmt.Errorf("saving token %s: %w: %w", logging.TokenPrefix(r.Token), apperrors.ErrPersistence, err)
	}

	return nil
}

// Create mints a token. Omitted categories default to every catalog
// category. The returned record is valid even when a persistence
// error is also returned.
func (e *Engine) Create(p CreateParams) (models.AccessRecord, error) {
	if strings.TrimSpace(p.ClientName) == "" {
		return models.AccessRecord{}, fmt.Errorf("creating token: client name is required")
	}

	if p.ExpirationDays < 0 || p.ExpirationDays > models.MaxExpirationDays {
		return models.AccessRecord{}, fmt.Errorf("creating token: %w: days must be between 0 and %d",
			apperrors.ErrExpirationRange, models.MaxExpirationDays)
	}

	categories, err := e.resolveCategories(p.Categories)
	if err != nil {
		return models.AccessRecord{}, fmt.Errorf("creating token: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	now := e.now().UTC()

	token := newToken()
	for e.records[token] != nil {
		token = newToken()
	}

	status := models.OAuthNotRequired
	if p.RequireDelegation {
		status = models.OAuthPending
	}

	r := &models.AccessRecord{
		Token:                   token,
		ClientName:              strings.TrimSpace(p.ClientName),
		Notes:                   p.Notes,
		ProjectID:               strings.TrimSpace(p.ProjectID),
		DatasetID:               strings.TrimSpace(p.DatasetID),
		AllowedReportCategories: categories,
		CreatedAt:               now,
		ExpirationDate:          now.AddDate(0, 0, p.ExpirationDays),
		Active:                  true,
		OAuthStatus:             status,
	}
	e.records[token] = r

	e.logger.Info("access token created",
		slog.String("token", logging.TokenPrefix(token)),
		slog.String("client", r.ClientName),
		slog.String("oauth_status", status.String()),
		slog.Int("expiration_days", p.ExpirationDays),
	)

	return r.Clone(), e.flush(r)
}

func (e *Engine) resolveCategories(requested []string) ([]string, error) {
	var known []string
	if e.catalog != nil {
		known = e.catalog.Categories()
	}

	if len(requested) == 0 {
		return slices.Clone(known), nil
	}

	out := make([]string, 0, len(requested))
	for _, c := range requested {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(out, c) {
			continue
		}

		if e.catalog != nil && !slices.Contains(known, c) {
			return nil, fmt.Errorf("%q: %w", c, apperrors.ErrUnknownCategory)
		}

		out = append(out, c)
	}

	return out, nil
}

// Validate looks up a usable token and records the access. It returns
// false for an unknown, revoked, or expired token alike. A valid token
// is not necessarily servable; see models.AccessRecord.Servable.
func (e *Engine) Validate(token string) (models.AccessRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	r := e.records[token]
	if r == nil {
		return models.AccessRecord{}, false
	}

	now := e.now().UTC()
	if !r.Active || r.Expired(now) {
		return models.AccessRecord{}, false
	}

	r.AccessCount++
	r.LastAccess = &now

	if err := e.flush(r); err != nil {
		e.logger.Warn("recording token access failed", slog.String("error", err.Error()))
	}

	return r.Clone(), true
}

// Get returns a record without recording an access.
func (e *Engine) Get(token string) (models.AccessRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	r := e.records[token]
	if r == nil {
		return models.AccessRecord{}, false
	}

	return r.Clone(), true
}

// List returns every record, newest first.
func (e *Engine) List() []models.AccessRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	out := make([]models.AccessRecord, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r.Clone())
	}

	slices.SortFunc(out, func(a, b models.AccessRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.Token, b.Token)
	})

	return out
}

// Revoke deactivates a token. Revoking twice is not an error. It
// reports whether the token exists.
func (e *Engine) Revoke(token string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	r := e.records[token]
	if r == nil {
		return false, nil
	}

	r.Active = false

	e.logger.Info("access token revoked", slog.String("token", logging.TokenPrefix(token)))

	return true, e.flush(r)
}

// Delete removes a token permanently.
func (e *Engine) Delete(token string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	if e.records[token] == nil {
		return false, nil
	}

	delete(e.records, token)

	e.logger.Info("access token deleted", slog.String("token", logging.TokenPrefix(token)))

	if e.persist == nil {
		return true, nil
	}

	if err := e.persist.DeleteAccessRecord(token); err != nil {
		return true, fmt.Errorf("deleting token %s: %w: %w", logging.TokenPrefix(token), apperrors.ErrPersistence, err)
	}

	return true, nil
}

// Extend pushes the deadline out by days, counted from the current
// deadline rather than from now. Negative days are refused. A deadline
// that would land more than MaxExpirationDays past now is refused with
// ErrExpirationRange and the record is left unchanged.
func (e *Engine) Extend(token string, days int) (bool, error) {
	if days < 0 {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	r := e.records[token]
	if r == nil {
		return false, nil
	}

	if days > models.MaxExpirationDays {
		return false, fmt.Errorf("extending token: %w: days must be at most %d", apperrors.ErrExpirationRange, models.MaxExpirationDays)
	}

	next := r.ExpirationDate.AddDate(0, 0, days)
	if next.After(e.now().UTC().AddDate(0, 0, models.MaxExpirationDays)) {
		return false, fmt.Errorf("extending token: %w: deadline would be more than %d days away",
			apperrors.ErrExpirationRange, models.MaxExpirationDays)
	}

	r.ExpirationDate = next

	e.logger.Info("access token extended",
		slog.String("token", logging.TokenPrefix(token)),
		slog.Int("days", days),
		slog.Time("expiration_date", r.ExpirationDate),
	)

	return true, e.flush(r)
}

// AttachDelegatedCredentials stores a credential obtained through the
// delegation handshake. A pending record becomes authorized; an
// authorized or configured record keeps its status and only the stored
// credential changes. Records that never required delegation refuse.
func (e *Engine) AttachDelegatedCredentials(token string, cred models.CredentialRecord, identity string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	r := e.records[token]
	if r == nil || r.OAuthStatus == models.OAuthNotRequired {
		return false, nil
	}

	next := models.OAuthAuthorized
	if r.OAuthStatus == models.OAuthConfigured {
		next = models.OAuthConfigured
	}

	if !r.OAuthStatus.CanTransition(next) {
		return false, nil
	}

	now := e.now().UTC()
	c := cred.Clone()

	r.OAuthStatus = next
	r.OAuthCredentials = &c
	r.OAuthAuthorizedAt = &now
	r.OAuthIdentity = identity

	e.logger.Info("delegated credentials attached",
		slog.String("token", logging.TokenPrefix(token)),
		slog.String("identity", identity),
		slog.String("oauth_status", next.String()),
	)

	return true, e.flush(r)
}

// ConfigureScope sets the project and dataset of an authorized record
// and marks it configured. It is a no-op returning false for any
// record not in the authorized state.
func (e *Engine) ConfigureScope(token, projectID, datasetID string) (bool, error) {
	projectID = strings.TrimSpace(projectID)
	datasetID = strings.TrimSpace(datasetID)

	if projectID == "" || datasetID == "" {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	r := e.records[token]
	if r == nil || r.OAuthStatus != models.OAuthAuthorized {
		return false, nil
	}

	r.ProjectID = projectID
	r.DatasetID = datasetID
	r.OAuthStatus = models.OAuthConfigured

	e.logger.Info("delegated scope configured",
		slog.String("token", logging.TokenPrefix(token)),
		slog.String("project_id", projectID),
		slog.String("dataset_id", datasetID),
	)

	return true, e.flush(r)
}

// Stats buckets the table. A revoked record counts as revoked even if
// its deadline has also passed.
func (e *Engine) Stats() models.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	now := e.now().UTC()

	var st models.Stats
	for _, r := range e.records {
		st.Total++
		st.TotalAccesses += r.AccessCount

		switch {
		case !r.Active:
			st.Revoked++
		case r.Expired(now):
			st.Expired++
		default:
			st.Active++
		}
	}

	return st
}

// Export returns the whole table as a JSON object keyed by token.
func (e *Engine) Export() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	table := make(map[string]models.AccessRecord, len(e.records))
	for token, r := range e.records {
		table[token] = r.Clone()
	}

	return models.EncodeAccessTable(table)
}

// Import replaces the whole table with the decoded blob and persists
// it. A blob that fails to decode leaves the table untouched. A
// persistence error leaves the imported table in memory.
func (e *Engine) Import(blob []byte) (int, error) {
	table, err := models.DecodeAccessTable(blob)
	if err != nil {
		return 0, fmt.Errorf("importing tokens: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLoaded()

	e.records = make(map[string]*models.AccessRecord, len(table))
	for token, r := range table {
		rec := r
		e.records[token] = &rec
	}

	e.logger.Info("access tokens imported", slog.Int("count", len(table)))

	if e.persist == nil {
		return len(table), nil
	}

	if err := e.persist.ReplaceAccessRecords(table); err != nil {
		return len(table), fmt.Errorf("importing tokens: %w: %w", apperrors.ErrPersistence, err)
	}

	return len(table), nil
}

// AccessURL is the link a client uses to view reports.
func AccessURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/admin_client_view?token=" + url.QueryEscape(token)
}

// DelegationURL is the link a client uses to delegate their identity.
func DelegationURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/client_oauth?token=" + url.QueryEscape(token)
}

func newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}

	return base64.RawURLEncoding.EncodeToString(b)
}
