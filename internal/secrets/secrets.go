// Package secrets loads the seed token table from a fallback
// configuration store when the local state database is absent.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
)

// secretAccessor is the subset of the Secret Manager client used here.
type secretAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// SecretManagerSource reads the latest version of a Google Secret
// Manager secret.
type SecretManagerSource struct {
	Project string
	Name    string

	// newClient is replaced in tests.
	newClient func(ctx context.Context) (secretAccessor, error)
}

// NewSecretManagerSource returns a source for projects/<project>/secrets/<name>.
func NewSecretManagerSource(project, name string) *SecretManagerSource {
	return &SecretManagerSource{
		Project: project,
		Name:    name,
		newClient: func(ctx context.Context) (secretAccessor, error) {
			return secretmanager.NewClient(ctx)
		},
	}
}

// SecretPath returns the resource name of the latest secret version.
func (s *SecretManagerSource) SecretPath() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.Project, s.Name)
}

// Load fetches the secret payload.
func (s *SecretManagerSource) Load(ctx context.Context) ([]byte, error) {
	client, err := s.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Secret Manager client: %w", err)
	}
	defer client.Close()

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.SecretPath(),
	})
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", s.SecretPath(), err)
	}

	return result.GetPayload().GetData(), nil
}

// FileSource reads a local JSON file. A missing file yields no data.
type FileSource struct {
	Path string
}

// Load reads the file contents.
func (f FileSource) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", f.Path, err)
	}

	return data, nil
}
