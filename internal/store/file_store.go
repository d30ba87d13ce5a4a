package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"whatsrelay/internal/constants"
	"whatsrelay/internal/models"
	"whatsrelay/internal/security"
)

// FileStore keeps the forwarding config and stats as two JSON documents in a
// data directory. Each save rewrites its document through a temp file and a
// rename, so a crash never leaves a half-written record.
type FileStore struct {
	dir        string
	configPath string
	statsPath  string
	mu         sync.Mutex
}

// NewFileStore creates the data directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := security.ValidateFilePath(dir); err != nil {
		return nil, fmt.Errorf("invalid data directory: %w", err)
	}
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPermissions); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &FileStore{
		dir:        dir,
		configPath: filepath.Join(dir, constants.DefaultConfigFileName),
		statsPath:  filepath.Join(dir, constants.DefaultStatsFileName),
	}, nil
}

// Load reads both documents. A missing document yields its default.
func (s *FileStore) Load(ctx context.Context) (models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := models.State{Config: models.DefaultForwardingConfig()}

	if err := s.readJSON(s.configPath, &state.Config); err != nil {
		return models.State{}, fmt.Errorf("failed to read forwarding config: %w", err)
	}
	if err := s.readJSON(s.statsPath, &state.Stats); err != nil {
		return models.State{}, fmt.Errorf("failed to read forwarding stats: %w", err)
	}
	return state, nil
}

func (s *FileStore) SaveConfig(ctx context.Context, cfg models.ForwardingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.configPath, cfg)
}

func (s *FileStore) SaveStats(ctx context.Context, stats models.ForwardingStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.statsPath, stats)
}

// Dir returns the data directory
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) readJSON(path string, v interface{}) error {
	if err := security.ValidateFilePathWithBase(path, s.dir); err != nil {
		return err
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is validated against the data directory
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) writeJSON(path string, v interface{}) error {
	if err := security.ValidateFilePathWithBase(path, s.dir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename has happened
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, constants.DefaultFilePermissions); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
