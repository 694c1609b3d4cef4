// Package local persists bookmark state to a file on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

// Config captures the parameters for the file state store.
type Config struct {
	// Path is the state file. Parent directories are created on save.
	Path string `mapstructure:"path" yaml:"path"`
}

// StateStore reads and writes a JSON state file.
type StateStore struct {
	path string
}

var _ tap.StateStore = (*StateStore)(nil)

// New creates a file-backed state store.
func New(cfg Config) (*StateStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("state file path is required")
	}
	info, err := os.Stat(cfg.Path)
	if err == nil && info.IsDir() {
		return nil, fmt.Errorf("state file path %q is a directory", cfg.Path)
	}
	return &StateStore{path: filepath.Clean(cfg.Path)}, nil
}

// Load returns the stored state, or an empty state when the file does not
// exist yet.
func (s *StateStore) Load(_ context.Context) (state.State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	st, err := state.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load state file %s: %w", s.path, err)
	}
	return st, nil
}

// Save replaces the state file. The new content is written to a temporary
// file in the same directory and renamed over the old one, so a crash never
// leaves a half-written state behind.
func (s *StateStore) Save(_ context.Context, st state.State) error {
	data, err := state.Marshal(st)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Path returns the state file location.
func (s *StateStore) Path() string {
	return s.path
}
