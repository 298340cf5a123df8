package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/chatmesh/core"
	"github.com/hupe1980/chatmesh/logging"
)

// Options configures a Registry.
type Options struct {
	// Logger receives reload reports. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry owns the active entity snapshot. Readers obtain the current
// snapshot with Snapshot() and keep using that reference for one pipeline
// run; Reload publishes a fresh snapshot atomically so in-flight runs never
// observe a half-updated set.
type Registry struct {
	dir    string
	logger logging.Logger

	current atomic.Pointer[core.Snapshot]

	mu         sync.Mutex
	lastIssues []LoadIssue
	lastLoaded time.Time
}

// New creates a Registry for the given definition directory. Call Reload to
// perform the initial load.
func New(dir string, optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	r := &Registry{dir: dir, logger: opts.Logger}
	r.current.Store(core.EmptySnapshot())
	return r
}

// Snapshot returns the active snapshot. Never nil.
func (r *Registry) Snapshot() *core.Snapshot { return r.current.Load() }

// Reload re-reads the definition directory and swaps in the new snapshot.
// The previous snapshot stays valid for pipeline runs that already hold it.
func (r *Registry) Reload() (*core.Snapshot, []LoadIssue, error) {
	start := time.Now()
	snap, issues, err := Load(r.dir)
	if err != nil {
		r.logger.Error("entity reload failed", "dir", r.dir, "error", err)
		return nil, nil, err
	}

	r.current.Store(snap)

	r.mu.Lock()
	r.lastIssues = issues
	r.lastLoaded = time.Now()
	r.mu.Unlock()

	for _, issue := range issues {
		r.logger.Warn("entity definition skipped", "file", issue.File, "reason", issue.Err.Error())
	}
	r.logger.Info("entity registry loaded", "dir", r.dir, "entities", snap.Len(), "skipped", len(issues), "duration", time.Since(start))
	return snap, issues, nil
}

// Issues returns the skip report from the most recent reload.
func (r *Registry) Issues() []LoadIssue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LoadIssue, len(r.lastIssues))
	copy(out, r.lastIssues)
	return out
}

// LoadedAt returns the time of the most recent successful reload.
func (r *Registry) LoadedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLoaded
}
