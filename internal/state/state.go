// Package state persists the access token table in a bbolt database.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/ga4-reports/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.ga4-reports/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket          = []byte("app")
	accessTokensBucket = []byte("access_tokens")
	seededKey          = []byte("seeded_at")
)

// SeedSource supplies an initial token table, encoded as the JSON
// export format, for a database that did not exist before.
type SeedSource interface {
	Load(ctx context.Context) ([]byte, error)
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db    *bolt.DB
	fresh bool
}

// Load opens the state database at ~/.ga4-reports/state.db, creating
// it if it does not exist.
func Load() (*State, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}

	return LoadAt(path)
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(accessTokensBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, fresh: fresh}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Fresh reports whether the database file was created by this process.
func (s *State) Fresh() bool {
	return s.fresh
}

// SeedIfFresh populates a newly created database from src. It returns
// the number of records written. Existing databases are left alone,
// as are fresh ones when src is nil or yields no data.
func (s *State) SeedIfFresh(ctx context.Context, src SeedSource) (int, error) {
	if !s.Fresh() || src == nil {
		return 0, nil
	}

	blob, err := src.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading seed: %w", err)
	}

	if len(blob) == 0 {
		return 0, nil
	}

	table, err := models.DecodeAccessTable(blob)
	if err != nil {
		return 0, fmt.Errorf("parsing seed: %w", err)
	}

	if err := s.ReplaceAccessRecords(table); err != nil {
		return 0, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(seededKey, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return 0, fmt.Errorf("recording seed time: %w", err)
	}

	s.fresh = false

	return len(table), nil
}

// SeededAt returns when the database was seeded, or the zero time.
func (s *State) SeededAt() time.Time {
	var t time.Time

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(seededKey)
		if v == nil {
			return nil
		}

		parsed, err := time.Parse(time.RFC3339, string(v))
		if err == nil {
			t = parsed
		}

		return nil
	})

	return t
}

// SaveAccessRecord writes a single record keyed by its token.
func (s *State) SaveAccessRecord(r models.AccessRecord) error {
	if r.Token == "" {
		return fmt.Errorf("access record token is required for persistence")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}

		return tx.Bucket(accessTokensBucket).Put([]byte(r.Token), data)
	})
}

// DeleteAccessRecord removes a record by token. Deleting a missing
// token is not an error.
func (s *State) DeleteAccessRecord(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accessTokensBucket).Delete([]byte(token))
	})
}

// AllAccessRecords returns every stored record keyed by token.
func (s *State) AllAccessRecords() (map[string]models.AccessRecord, error) {
	result := make(map[string]models.AccessRecord)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accessTokensBucket).ForEach(func(k, v []byte) error {
			var r models.AccessRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}

			result[string(k)] = r

			return nil
		})
	})

	return result, err
}

// ReplaceAccessRecords swaps the whole table in one transaction.
func (s *State) ReplaceAccessRecords(table map[string]models.AccessRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(accessTokensBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		b, err := tx.CreateBucket(accessTokensBucket)
		if err != nil {
			return err
		}

		for token, r := range table {
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(token), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// AccessRecordCount returns the number of stored records.
func (s *State) AccessRecordCount() int {
	count := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(accessTokensBucket).Stats().KeyN

		return nil
	})

	return count
}

// DefaultPath returns ~/.ga4-reports/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".ga4-reports", "state.db"), nil
}
