// Package gcs persists bookmark state as an object in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Config captures the object holding the state.
type Config struct {
	Bucket string
	Object string
}

// StateStore reads and writes state JSON in a GCS object.
type StateStore struct {
	client *storage.Client
	bucket string
	object string
}

var _ tap.StateStore = (*StateStore)(nil)

// New creates a GCS-backed state store.
func New(client *storage.Client, cfg Config) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(cfg.Object) == "" {
		return nil, fmt.Errorf("object name is required")
	}
	return &StateStore{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.Object,
	}, nil
}

// Load returns the stored state, or an empty state when the object does not
// exist yet.
func (s *StateStore) Load(ctx context.Context) (state.State, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return state.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.URI(), err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.URI(), err)
	}
	st, err := state.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.URI(), err)
	}
	return st, nil
}

// Save overwrites the state object.
func (s *StateStore) Save(ctx context.Context, st state.State) error {
	data, err := state.Marshal(st)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// URI returns the gs:// location of the state object.
func (s *StateStore) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}
