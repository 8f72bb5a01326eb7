package bigquery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bq "cloud.google.com/go/bigquery"
	apperrors "github.com/alexjbarnes/ga4-reports/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/cloudresourcemanager/v1"
	"google.golang.org/api/option"
)

const defaultTimeout = 60 * time.Second

// ServiceCredentialScopes are requested for service account keys.
var ServiceCredentialScopes = []string{
	bq.Scope,
	cloudresourcemanager.CloudPlatformReadOnlyScope,
}

// Factory builds query clients for the three ways a caller can
// authenticate.
type Factory struct {
	// Timeout bounds every query, dry run and project listing.
	Timeout time.Duration

	logger *slog.Logger

	// extra options, for tests pointing at a fake endpoint.
	bigqueryOpts []option.ClientOption
	projectsOpts []option.ClientOption
}

// NewFactory creates a factory with the given timeout (60s if zero).
func NewFactory(timeout time.Duration, logger *slog.Logger) *Factory {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Factory{Timeout: timeout, logger: logger}
}

// ForTokenSource builds a client that bills projectID and
// authenticates with ts.
func (f *Factory) ForTokenSource(ctx context.Context, ts oauth2.TokenSource, projectID string) (Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("creating bigquery client: project id is required")
	}

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, f.bigqueryOpts...)

	client, err := bq.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	return &queryClient{client: client, project: projectID, timeout: f.Timeout, logger: f.logger}, nil
}

// ForServiceCredential builds a client from a service account key. The
// project comes from the key itself.
func (f *Factory) ForServiceCredential(ctx context.Context, data []byte) (Client, error) {
	projectID, err := ServiceCredentialProject(data)
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(ctx, data, ServiceCredentialScopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing service credential: %w", err)
	}

	return f.ForTokenSource(ctx, creds.TokenSource, projectID)
}

// ListProjects returns the ids of the active projects ts can see.
func (f *Factory) ListProjects(ctx context.Context, ts oauth2.TokenSource) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, f.projectsOpts...)

	svc, err := cloudresourcemanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating resource manager client: %w", err)
	}

	var ids []string

	err = svc.Projects.List().Filter("lifecycleState:ACTIVE").Pages(ctx, func(resp *cloudresourcemanager.ListProjectsResponse) error {
		for _, p := range resp.Projects {
			ids = append(ids, p.ProjectId)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w: %w", apperrors.ErrUpstream, err)
	}

	return ids, nil
}

// ServiceCredentialProject reads the project id out of a service
// account key and checks that it is one.
func ServiceCredentialProject(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("service credential is not valid JSON")
	}

	if typ := gjson.GetBytes(data, "type").String(); typ != "service_account" {
		return "", fmt.Errorf("credential type %q is not service_account", typ)
	}

	projectID := gjson.GetBytes(data, "project_id").String()
	if projectID == "" {
		return "", fmt.Errorf("service credential has no project_id")
	}

	return projectID, nil
}

// ServiceCredentialEmail returns the key's client_email, for display.
func ServiceCredentialEmail(data []byte) string {
	return gjson.GetBytes(data, "client_email").String()
}
