// Package tempstore owns temporary on-disk artifacts. Every artifact is
// removed by a per-file timer after the retention window, and independently
// by a periodic sweep of stale files.
package tempstore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdfrelay/internal/metrics"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultRetention     = time.Hour
	DefaultStaleAfter    = 2 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Artifact is a file owned by the store.
type Artifact struct {
	Path      string
	Name      string
	CreatedAt time.Time
}

// Config configures a Store.
type Config struct {
	Dir           string
	Retention     time.Duration // scheduled delete delay (default 1h)
	StaleAfter    time.Duration // sweep threshold (default 2h)
	SweepInterval time.Duration // sweep period (default 1h)
	Logger        *slog.Logger
}

// Store is safe for concurrent use.
type Store struct {
	dir           string
	retention     time.Duration
	staleAfter    time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	entropy io.Reader
	timers  map[string]*time.Timer
	closed  bool
}

// New creates the artifact directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "pdfrelay")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		dir:           cfg.Dir,
		retention:     cfg.Retention,
		staleAfter:    cfg.StaleAfter,
		sweepInterval: cfg.SweepInterval,
		logger:        cfg.Logger,
		now:           time.Now,
		entropy:       ulid.Monotonic(rand.Reader, 0),
		timers:        make(map[string]*time.Timer),
	}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Save writes data and schedules its removal after the retention window.
func (s *Store) Save(data []byte, name string) (Artifact, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Artifact{}, errors.New("temp store closed")
	}
	created := s.now()
	id := ulid.MustNew(ulid.Timestamp(created), s.entropy)
	s.mu.Unlock()

	base := sanitizeName(name)
	path := filepath.Join(s.dir, id.String()+"_"+base)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return Artifact{}, fmt.Errorf("write temp file: %w", err)
	}

	s.mu.Lock()
	s.timers[path] = time.AfterFunc(s.retention, func() { s.expire(path) })
	s.mu.Unlock()

	metrics.TempArtifacts.Inc()
	s.logger.Debug("temp file saved", "path", path, "size", len(data))
	return Artifact{Path: path, Name: base, CreatedAt: created}, nil
}

func (s *Store) expire(path string) {
	s.mu.Lock()
	delete(s.timers, path)
	s.mu.Unlock()

	removed, err := s.Remove(path)
	if err != nil {
		s.logger.Warn("temp file removal failed", "path", path, "err", err)
		return
	}
	if removed {
		s.logger.Info("temp file removed", "file", filepath.Base(path))
	}
}

// Remove deletes path. A file that is already gone is not an error.
func (s *Store) Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.TempArtifacts.Dec()
	return true, nil
}

// Exists reports whether the artifact is still on disk.
func (s *Store) Exists(a Artifact) bool {
	_, err := os.Stat(a.Path)
	return err == nil
}

// Sweep removes every file older than the staleness threshold.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := s.now().Add(-s.staleAfter)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed concurrently
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		ok, err := s.Remove(path)
		if err != nil {
			s.logger.Warn("stale temp file removal failed", "path", path, "err", err)
			continue
		}
		if ok {
			removed++
			s.logger.Info("stale temp file removed", "file", entry.Name())
		}
	}
	return removed, nil
}

// Run sweeps every SweepInterval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("temp sweeper started", "dir", s.dir, "interval", s.sweepInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(); err != nil {
				s.logger.Error("temp sweep failed", "err", err)
			}
		}
	}
}

// Close cancels pending scheduled deletes. Files left behind are picked up
// by the next sweep.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == 0 || r < 0x20:
			return '_'
		default:
			return r
		}
	}, name)
	if name == "" || name == "." || name == ".." {
		return "document.pdf"
	}
	return name
}
