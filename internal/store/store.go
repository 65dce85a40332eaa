// Package store persists the accumulated traffic history as a single JSON file.
//
// Writes go to a temporary file in the same directory and are renamed over the
// target, so a concurrent reader sees either the previous or the new contents,
// never a truncated file.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"

	"github.com/naka-gawa/github-traffic/internal/domain"
)

// ErrCorrupt marks a backing file that exists but cannot be decoded into a History.
var ErrCorrupt = errors.New("persisted history is corrupt")

// CorruptionPolicy decides what a caller gets back when the backing file cannot be loaded.
type CorruptionPolicy int

const (
	// SurfaceCorruption returns load errors to the caller unchanged.
	SurfaceCorruption CorruptionPolicy = iota
	// IgnoreCorruption replaces any load error with an empty History and logs a warning.
	IgnoreCorruption
)

func (p CorruptionPolicy) String() string {
	switch p {
	case SurfaceCorruption:
		return "surface"
	case IgnoreCorruption:
		return "ignore"
	default:
		return fmt.Sprintf("CorruptionPolicy(%d)", int(p))
	}
}

// Store defines load/save of the full per-repository history.
type Store interface {
	Load(ctx context.Context) (domain.History, error)
	LoadWithPolicy(ctx context.Context, policy CorruptionPolicy) (domain.History, error)
	Save(ctx context.Context, history domain.History) error
}

// FileStore is a Store backed by one JSON file.
type FileStore struct {
	path     string
	fs       afero.Fs
	lockPath string
	logger   *slog.Logger
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithFs sets the filesystem the store reads and writes. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *FileStore) {
		s.fs = fs
	}
}

// WithLock makes Save hold an exclusive advisory lock on lockPath while writing.
// The lock always lives on the OS filesystem.
func WithLock(lockPath string) Option {
	return func(s *FileStore) {
		s.lockPath = lockPath
	}
}

// WithLogger sets the logger used for warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// New creates a FileStore for the file at path.
func New(path string, opts ...Option) *FileStore {
	s := &FileStore{
		path:   path,
		fs:     afero.NewOsFs(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store", "path", path)
	return s
}

// Path returns the location of the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the backing file. A missing file yields an empty History. Sequences that are
// unsorted or repeat a day are repaired rather than rejected, so one bad repository never
// costs the others their history.
func (s *FileStore) Load(ctx context.Context) (domain.History, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("no persisted history yet")
		return domain.History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted history: %w", err)
	}

	var history domain.History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if history == nil {
		history = domain.History{}
	}
	if repaired := history.Repair(); len(repaired) > 0 {
		s.logger.Warn("repaired out-of-order traffic sequences", "repos", repaired)
	}
	history.Normalize()
	return history, nil
}

// LoadWithPolicy loads the history and applies policy to any error.
func (s *FileStore) LoadWithPolicy(ctx context.Context, policy CorruptionPolicy) (domain.History, error) {
	history, err := s.Load(ctx)
	if err == nil || policy == SurfaceCorruption {
		return history, err
	}
	s.logger.Warn("failed to read persisted history, using empty instead", "error", err)
	return domain.History{}, nil
}

// Save serializes history and atomically replaces the backing file.
func (s *FileStore) Save(ctx context.Context, history domain.History) error {
	if history == nil {
		history = domain.History{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if s.lockPath != "" {
		lock := flock.New(s.lockPath)
		ok, err := lock.TryLockContext(ctx, 100*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to lock %s: %w", s.lockPath, err)
		}
		if !ok {
			return fmt.Errorf("failed to lock %s", s.lockPath)
		}
		defer lock.Unlock()
	}

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	s.logger.Debug("persisted history", "repos", len(history), "bytes", len(data))
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
