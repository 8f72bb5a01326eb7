package bigquery

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.test", Expiry: time.Now().Add(time.Hour)})
}

// projectsServer fakes the resource manager projects.list endpoint
// with two pages.
func projectsServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/projects", r.URL.Path)
		assert.Equal(t, "Bearer ya29.test", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)

		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"caller lacks permission"}}`))
			return
		}

		if r.URL.Query().Get("pageToken") == "" {
			_, _ = w.Write([]byte(`{"projects":[{"projectId":"alpha"}],"nextPageToken":"p2"}`))
			return
		}

		_, _ = w.Write([]byte(`{"projects":[{"projectId":"beta"}]}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestListProjects(t *testing.T) {
	srv, calls := projectsServer(t, http.StatusOK)

	f := NewFactory(5*time.Second, testLogger())
	f.projectsOpts = []option.ClientOption{option.WithEndpoint(srv.URL + "/")}

	ids, err := f.ListProjects(context.Background(), staticTokens())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)
	assert.Equal(t, int32(2), calls.Load())
}

func TestListProjects_UpstreamError(t *testing.T) {
	srv, _ := projectsServer(t, http.StatusForbidden)

	f := NewFactory(5*time.Second, testLogger())
	f.projectsOpts = []option.ClientOption{option.WithEndpoint(srv.URL + "/")}

	_, err := f.ListProjects(context.Background(), staticTokens())
	require.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Contains(t, err.Error(), "caller lacks permission")
}

func TestNewFactory_DefaultTimeout(t *testing.T) {
	f := NewFactory(0, testLogger())
	assert.Equal(t, defaultTimeout, f.Timeout)
}

func TestForTokenSource(t *testing.T) {
	f := NewFactory(time.Second, testLogger())

	c, err := f.ForTokenSource(context.Background(), staticTokens(), "billing-project")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	assert.Equal(t, "billing-project", c.ProjectID())
}

func TestForTokenSource_RequiresProject(t *testing.T) {
	f := NewFactory(time.Second, testLogger())

	_, err := f.ForTokenSource(context.Background(), staticTokens(), "")
	assert.Error(t, err)
}

func TestServiceCredentialProject(t *testing.T) {
	key := []byte(`{"type":"service_account","project_id":"svc-project","client_email":"bot@svc-project.iam.gserviceaccount.com"}`)

	project, err := ServiceCredentialProject(key)
	require.NoError(t, err)
	assert.Equal(t, "svc-project", project)
	assert.Equal(t, "bot@svc-project.iam.gserviceaccount.com", ServiceCredentialEmail(key))
}

func TestServiceCredentialProject_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `nope`,
		"authorized user": `{"type":"authorized_user","project_id":"x"}`,
		"no project":      `{"type":"service_account"}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ServiceCredentialProject([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestForServiceCredential_RejectsBeforeParsing(t *testing.T) {
	f := NewFactory(time.Second, testLogger())

	_, err := f.ForServiceCredential(context.Background(), []byte(`{"type":"authorized_user"}`))
	assert.Error(t, err)
}
