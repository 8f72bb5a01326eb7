package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/access"
	"github.com/alexjbarnes/ga4-reports/internal/bigquery"
	"github.com/alexjbarnes/ga4-reports/internal/oauthflow"
	"github.com/alexjbarnes/ga4-reports/internal/reports"
	"github.com/alexjbarnes/ga4-reports/internal/secrets"
	"github.com/alexjbarnes/ga4-reports/internal/server"
	"github.com/alexjbarnes/ga4-reports/internal/session"
	"github.com/alexjbarnes/ga4-reports/internal/state"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	testUsername = "testadmin"
	testPassword = "testpass"
	serviceKey   = `{"type":"service_account","project_id":"svc-project","client_email":"reports@svc-project.iam.gserviceaccount.com"}`
)

// provider is a fake Google OAuth server. Its consent screen approves
// immediately and sends the browser back with a code.
type provider struct {
	*httptest.Server

	mu     sync.Mutex
	issued int
}

func newProvider(t *testing.T) *provider {
	t.Helper()

	p := &provider{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		back := q.Get("redirect_uri") + "?" + url.Values{
			"code":  {"code-" + q.Get("state")[:8]},
			"state": {q.Get("state")},
		}.Encode()
		http.Redirect(w, r, back, http.StatusFound)
	})

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		p.mu.Lock()
		p.issued++
		n := p.issued
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"ya29.e2e-%d","refresh_token":"1//e2e","expires_in":3600,"scope":"openid email"}`, n)
	})

	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"email":"owner@client.example","name":"Client Owner"}`))
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)

	return p
}

// recordingClient stands in for BigQuery and remembers every query.
type recordingClient struct {
	project string
	factory *recordingFactory
}

func (c *recordingClient) ProjectID() string { return c.project }

func (c *recordingClient) Run(_ context.Context, sql string) (*bigquery.Result, error) {
	c.factory.record(sql)
	return &bigquery.Result{Columns: []string{"event_date", "users"}, Rows: [][]any{{"20260301", int64(17)}}}, nil
}

func (c *recordingClient) DryRun(_ context.Context, sql string) (*bigquery.Estimate, error) {
	c.factory.record(sql)
	return &bigquery.Estimate{BytesProcessed: 2048}, nil
}

func (c *recordingClient) Close() error { return nil }

type recordingFactory struct {
	mu           sync.Mutex
	queries      []string
	accessTokens []string
}

func (f *recordingFactory) record(sql string) {
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	f.mu.Unlock()
}

func (f *recordingFactory) ForTokenSource(_ context.Context, ts oauth2.TokenSource, projectID string) (bigquery.Client, error) {
	tok, err := ts.Token()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.accessTokens = append(f.accessTokens, tok.AccessToken)
	f.mu.Unlock()

	return &recordingClient{project: projectID, factory: f}, nil
}

func (f *recordingFactory) ForServiceCredential(_ context.Context, data []byte) (bigquery.Client, error) {
	project, err := bigquery.ServiceCredentialProject(data)
	if err != nil {
		return nil, err
	}

	return &recordingClient{project: project, factory: f}, nil
}

func (f *recordingFactory) ListProjects(context.Context, oauth2.TokenSource) ([]string, error) {
	return []string{"owner-project"}, nil
}

func (f *recordingFactory) snapshot() (queries, tokens []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.queries...), append([]string(nil), f.accessTokens...)
}

// harness is a running server over a real bbolt database.
type harness struct {
	URL       string
	StatePath string
	Factory   *recordingFactory

	// Browser follows redirects and keeps cookies. NoFollow shares the
	// cookie jar but stops at the first redirect.
	Browser  *http.Client
	NoFollow *http.Client

	srv    *httptest.Server
	state  *state.State
	closed bool
}

type harnessOption func(*harnessOptions)

type harnessOptions struct {
	statePath string
	seedFile  string
}

func withStatePath(path string) harnessOption {
	return func(o *harnessOptions) { o.statePath = path }
}

func withSeedFile(path string) harnessOption {
	return func(o *harnessOptions) { o.seedFile = path }
}

// newHarness wires the whole service the way main does and starts it.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	o := harnessOptions{statePath: filepath.Join(t.TempDir(), "state.db")}
	for _, opt := range opts {
		opt(&o)
	}

	logger := slog.New(slog.DiscardHandler)

	st, err := state.LoadAt(o.statePath)
	require.NoError(t, err)

	if o.seedFile != "" {
		_, err := st.SeedIfFresh(t.Context(), secrets.FileSource{Path: o.seedFile})
		require.NoError(t, err)
	}

	p := newProvider(t)

	// The callback URL must be known before the mux is built.
	ts := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + ts.Listener.Addr().String()

	states := oauthflow.NewStateStore()
	t.Cleanup(states.Stop)

	handshake := oauthflow.NewHandshake(oauthflow.Config{
		ClientID:     "e2e-client",
		ClientSecret: "e2e-secret",
		AuthURL:      p.URL + "/auth",
		TokenURL:     p.URL + "/token",
		UserInfoURL:  p.URL + "/userinfo",
		RedirectURL:  baseURL + "/oauth/callback",
		Timeout:      5 * time.Second,
	}, states, nil, logger)

	factory := &recordingFactory{}

	sessions := session.NewRegistry(factory, "", 5*time.Second, logger)
	t.Cleanup(sessions.Stop)

	catalog := reports.Builtin(logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	ts.Config.Handler = server.NewMux(server.MuxConfig{
		Engine:                access.NewEngine(st, catalog, logger),
		Catalog:               catalog,
		Handshake:             handshake,
		Sessions:              sessions,
		Factory:               factory,
		Logger:                logger,
		AdminUsers:            map[string]string{testUsername: string(hash)},
		ServiceAccountKey:     []byte(serviceKey),
		BaseURL:               baseURL,
		DefaultExpirationDays: 30,
	})
	ts.Start()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	h := &harness{
		URL:       baseURL,
		StatePath: o.statePath,
		Factory:   factory,
		Browser:   &http.Client{Jar: jar, Timeout: 10 * time.Second},
		NoFollow: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		srv:   ts,
		state: st,
	}
	t.Cleanup(h.Close)

	return h
}

// Close stops the server and releases the database lock.
func (h *harness) Close() {
	if h.closed {
		return
	}

	h.closed = true
	h.srv.Close()
	_ = h.state.Close()
}

func (h *harness) request(t *testing.T, method, path string, body any, admin bool) *http.Request {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, h.URL+path, r)
	require.NoError(t, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if admin {
		req.SetBasicAuth(testUsername, testPassword)
	}

	return req
}

// admin performs an authenticated admin call without following
// redirects, decoding a JSON body into out when it is non-nil.
func (h *harness) admin(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	resp, err := h.NoFollow.Do(h.request(t, method, path, body, true))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

// public performs an anonymous call through the browser client and
// returns the final status and body.
func (h *harness) public(t *testing.T, method, path string, body any) (int, string) {
	t.Helper()

	resp, err := h.Browser.Do(h.request(t, method, path, body, false))
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(b)
}

// follow fetches an absolute URL without following redirects and
// returns the Location header.
func (h *harness) follow(t *testing.T, location string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, location, nil)
	require.NoError(t, err)

	resp, err := h.NoFollow.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	return resp.StatusCode, resp.Header.Get("Location")
}

// tokenView mirrors the admin JSON representation of a token.
type tokenView struct {
	Token                   string    `json:"token"`
	ClientName              string    `json:"client_name"`
	ProjectID               string    `json:"project_id"`
	DatasetID               string    `json:"dataset_id"`
	AllowedReportCategories []string  `json:"allowed_report_categories"`
	ExpirationDate          time.Time `json:"expiration_date"`
	Active                  bool      `json:"active"`
	Servable                bool      `json:"servable"`
	AccessCount             int64     `json:"access_count"`
	OAuthStatus             string    `json:"oauth_status"`
	OAuthIdentity           string    `json:"oauth_identity"`
	HasCredentials          bool      `json:"has_credentials"`
	AccessURL               string    `json:"access_url"`
	DelegationURL           string    `json:"delegation_url"`
	Warning                 string    `json:"warning"`
}

func (h *harness) createToken(t *testing.T, body map[string]any) tokenView {
	t.Helper()

	var v tokenView
	require.Equal(t, http.StatusCreated, h.admin(t, http.MethodPost, "/admin/tokens", body, &v))
	require.Empty(t, v.Warning)

	return v
}

func (h *harness) getToken(t *testing.T, token string) tokenView {
	t.Helper()

	var v tokenView
	require.Equal(t, http.StatusOK, h.admin(t, http.MethodGet, "/admin/tokens/"+token, nil, &v))

	return v
}

// pathOf strips the harness origin from an absolute link.
func (h *harness) pathOf(t *testing.T, link string) string {
	t.Helper()

	u, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, h.URL, u.Scheme+"://"+u.Host)

	return u.RequestURI()
}
