package resource

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/clipforge/video-compositor/pkg/logger"
)

const (
	defaultCleanupAttempts = 3
	defaultCleanupBackoff  = 200 * time.Millisecond
)

// Scope owns one job's temp directory and a stack of release callbacks.
// Every file a processor creates lives under TempDir so that releasing the
// scope erases all per-job state, success or failure.
type Scope struct {
	mu       sync.Mutex
	tempDir  string
	releases []func() error
	released bool
	log      logger.Logger

	cleanupAttempts int
	cleanupBackoff  time.Duration
}

// NewScope creates and tracks a unique temp directory under baseDir. An empty
// baseDir falls back to the system temp dir; an empty jobID gets a random one.
func NewScope(baseDir, jobID string, log logger.Logger) (*Scope, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	if jobID == "" {
		jobID = uuid.New().String()
	}
	dir := filepath.Join(baseDir, "vc_job_"+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create temp dir %s", dir)
	}
	return &Scope{
		tempDir:         dir,
		log:             log,
		cleanupAttempts: defaultCleanupAttempts,
		cleanupBackoff:  defaultCleanupBackoff,
	}, nil
}

func (s *Scope) TempDir() string {
	return s.tempDir
}

// Path returns a path for name inside the scope's temp directory.
func (s *Scope) Path(name string) string {
	return filepath.Join(s.tempDir, name)
}

// Track registers a cleanup callback. Callbacks run in LIFO order on Release.
func (s *Scope) Track(release func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		// Late registration after release: run it now, best effort.
		if err := release(); err != nil && s.log != nil {
			s.log.Warnf("late release callback failed: %v", err)
		}
		return
	}
	s.releases = append(s.releases, release)
}

// Release runs all callbacks in LIFO order and removes the temp directory.
// Safe against repeated calls; release-time errors are logged and skipped,
// never re-raised. Directory removal retries briefly to accommodate
// filesystems that refuse deletion of freshly closed files.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		if err := releases[i](); err != nil && s.log != nil {
			s.log.Warnf("release callback %d failed: %v", i, err)
		}
	}

	var err error
	for attempt := 0; attempt < s.cleanupAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cleanupBackoff << uint(attempt-1))
		}
		if err = os.RemoveAll(s.tempDir); err == nil {
			return
		}
	}
	if err != nil && s.log != nil {
		s.log.Errorf("failed to remove temp dir %s: %v", s.tempDir, err)
	}
}
