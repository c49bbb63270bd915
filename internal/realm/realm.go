// Package realm is the entry point to a realm's index: it locates the realm,
// keeps the loaded graph in memory, brings it up to date with the files on
// disk and answers link queries against it.
package realm

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/index"
	"github.com/starford/nous/internal/metrics"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/scanner"
	"github.com/starford/nous/internal/storage"
)

// MetaDir marks a realm root and holds its index, lock and config.
const MetaDir = ".nous"

// DefaultExtensions are the node file extensions used when none are configured.
var DefaultExtensions = []string{"md", "markdown", "org", "txt", "text"}

// Realm is an opened realm. Queries are safe for concurrent use; reindexes
// are serialized.
type Realm struct {
	root   string
	meta   string
	files  storage.Provider
	db     index.Persister
	opts   options
	logger *slog.Logger

	// writeMu serializes reindexes; mu guards the fields below it.
	writeMu sync.Mutex

	mu     sync.RWMutex
	state  *index.State
	stale  bool
	last   models.Stats
	hooks  []func(models.Stats)
	closed bool
}

type options struct {
	exts        []string
	defaultExt  string
	ignore      []string
	filter      scanner.Filter
	workers     int
	lockTimeout time.Duration
	logger      *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithExtensions sets the node file extensions (without dot).
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		if len(exts) > 0 {
			o.exts = exts
		}
	}
}

// WithDefaultExtension sets the extension of files created for new nodes.
func WithDefaultExtension(ext string) Option {
	return func(o *options) {
		if ext != "" {
			o.defaultExt = ext
		}
	}
}

// WithIgnore adds glob patterns of entries the scanner skips.
func WithIgnore(patterns ...string) Option {
	return func(o *options) { o.ignore = append(o.ignore, patterns...) }
}

// WithFilter replaces the extension/ignore filter.
func WithFilter(f scanner.Filter) Option {
	return func(o *options) { o.filter = f }
}

// WithWorkers bounds parallel fingerprinting.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLockTimeout bounds how long a reindex waits for another writer.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// FindRoot returns the nearest directory at or above start that holds MetaDir.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("realm: resolve %s: %w", start, err)
	}
	for {
		info, err := os.Stat(filepath.Join(dir, MetaDir))
		if err == nil && info.IsDir() {
			return dir, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", apperr.IO("find root", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: %s", apperr.ErrNotARealm, start)
		}
		dir = parent
	}
}

// Init makes dir a realm root. It refuses when dir is already inside a realm.
func Init(dir string) (string, error) {
	if root, err := FindRoot(dir); err == nil {
		return "", fmt.Errorf("realm: %s is already within the realm %s: %w", dir, root, apperr.ErrAlreadyExists)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("realm: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(abs, MetaDir), 0o755); err != nil {
		return "", apperr.IO("init", abs, err)
	}
	return abs, nil
}

// Open locates the realm containing path and loads its committed index. An
// index that cannot be trusted is discarded with a warning; the next reindex
// then rebuilds it from the files.
func Open(path string, opts ...Option) (*Realm, error) {
	o := options{
		exts:        DefaultExtensions,
		defaultExt:  "md",
		lockTimeout: 5 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.filter == nil {
		o.filter = scanner.NewExtFilter(o.exts, o.ignore)
	}

	root, err := FindRoot(path)
	if err != nil {
		return nil, err
	}
	files, err := storage.NewFS(root)
	if err != nil {
		return nil, err
	}

	r := &Realm{
		root:   root,
		meta:   filepath.Join(root, MetaDir),
		files:  files,
		opts:   o,
		logger: o.logger,
	}
	r.db = index.New(r.meta, r.logger, o.exts...)

	state, err := r.db.Load()
	switch {
	case errors.Is(err, apperr.ErrIndexStale):
		r.logger.Warn("realm: index discarded, full rescan on next reindex",
			slog.String("root", root),
			slog.String("error", err.Error()))
		state = index.NewState(o.exts...)
		// Keep counting from the discarded generation when it is still
		// readable, so generations never go backwards.
		if gen, gerr := r.db.Generation(); gerr == nil {
			state.Generation = gen
		}
		r.stale = true
	case err != nil:
		return nil, err
	}
	r.state = state
	r.last = models.Stats{Generation: state.Generation}
	metrics.Generation.Set(float64(state.Generation))

	r.logger.Debug("realm: opened",
		slog.String("root", root),
		slog.Uint64("generation", state.Generation),
		slog.Int("nodes", state.Graph.Len()))
	return r, nil
}

// Root returns the absolute realm root.
func (r *Realm) Root() string { return r.root }

// Stale reports whether the loaded index was discarded on open and no
// reindex has rebuilt it yet.
func (r *Realm) Stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stale
}

// OnReindex registers fn to run after every reindex that changed the index.
func (r *Realm) OnReindex(fn func(models.Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Close releases the realm. It is safe to call more than once.
func (r *Realm) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.hooks = nil
	return nil
}
