// Package scanner walks a realm and classifies the nodes that changed since
// the last scan.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"runtime"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/checksum"
	"github.com/starford/nous/internal/fingerprint"
)

// Kind classifies a scan event.
type Kind uint8

const (
	Deleted Kind = iota
	Renamed
	Created
	Modified
)

func (k Kind) String() string {
	switch k {
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	case Created:
		return "created"
	default:
		return "modified"
	}
}

// Event is one observed change. Path is the node's current path (its last
// known path for Deleted). Data holds the content of Created and Modified nodes.
type Event struct {
	Kind    Kind
	ID      string
	Path    string
	OldPath string
	Entry   fingerprint.Entry
	Data    []byte
}

// Scanner walks a realm file system.
type Scanner struct {
	fsys    fs.FS
	filter  Filter
	exclude []string
	workers int
	verify  bool
	newID   func() string
	logger  *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithFilter sets the entry filter. Without one every regular file is a node.
func WithFilter(f Filter) Option {
	return func(s *Scanner) { s.filter = f }
}

// WithExclude skips the given top-level directories.
func WithExclude(dirs ...string) Option {
	return func(s *Scanner) { s.exclude = append(s.exclude, dirs...) }
}

// WithWorkers bounds the number of files fingerprinted concurrently.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithVerify disables the size/mtime shortcut so every file is hashed.
func WithVerify(v bool) Option {
	return func(s *Scanner) { s.verify = v }
}

// WithIDGenerator replaces the id source for created nodes.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scanner) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// New creates a Scanner over fsys, whose root is the realm root.
func New(fsys fs.FS, opts ...Option) *Scanner {
	s := &Scanner{
		fsys:    fsys,
		workers: runtime.GOMAXPROCS(0),
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type candidate struct {
	path string
	info fs.FileInfo
}

type observation struct {
	id        string
	unchanged bool
	missing   bool
	entry     fingerprint.Entry
	data      []byte
}

// Scan compares the realm against store and returns the changes for
// generation gen, ordered Deleted, Renamed, Created, Modified and by path
// within each kind.
//
// Scan updates store to the observed state: callers that may need to discard
// the result should pass a copy.
func (s *Scanner) Scan(ctx context.Context, store *fingerprint.Store, gen uint64) ([]Event, error) {
	files, err := s.walk(ctx)
	if err != nil {
		return nil, err
	}

	obs, err := s.observe(ctx, store, files)
	if err != nil {
		return nil, err
	}

	var (
		events  []Event
		created []int
	)
	for i, o := range obs {
		switch {
		case o.missing:
			// Vanished between walk and read; treated as absent.
		case o.unchanged:
			store.Touch(o.id, gen)
		case o.id == "":
			created = append(created, i)
		default:
			prev, _ := store.Get(o.id)
			o.entry.LastSeen = gen
			store.Put(o.id, o.entry)
			if prev.Fingerprint != o.entry.Fingerprint {
				events = append(events, Event{Kind: Modified, ID: o.id, Path: o.entry.Path, Entry: o.entry, Data: o.data})
			}
		}
	}

	gone := store.Stale(gen)
	paired := pairRenames(store, gone, obs, created)

	for _, id := range gone {
		prev, _ := store.Get(id)
		if i, ok := paired[id]; ok {
			o := obs[i]
			o.entry.LastSeen = gen
			store.Put(id, o.entry)
			events = append(events, Event{Kind: Renamed, ID: id, Path: o.entry.Path, OldPath: prev.Path, Entry: o.entry})
			continue
		}
		store.Remove(id)
		events = append(events, Event{Kind: Deleted, ID: id, Path: prev.Path, Entry: prev})
	}

	taken := make(map[int]bool, len(paired))
	for _, i := range paired {
		taken[i] = true
	}
	for _, i := range created {
		if taken[i] {
			continue
		}
		o := obs[i]
		id := s.newID()
		o.entry.LastSeen = gen
		store.Put(id, o.entry)
		events = append(events, Event{Kind: Created, ID: id, Path: o.entry.Path, Entry: o.entry, Data: o.data})
	}

	slices.SortStableFunc(events, func(a, b Event) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		return strings.Compare(a.Path, b.Path)
	})

	s.logger.Debug("scan: complete",
		slog.Uint64("generation", gen),
		slog.Int("files", len(files)),
		slog.Int("events", len(events)))
	return events, nil
}

func (s *Scanner) walk(ctx context.Context) ([]candidate, error) {
	var files []candidate
	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return apperr.IO("scan", p, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if hidden || slices.Contains(s.exclude, p) || (s.filter != nil && !s.filter.Include(p, true)) {
				return fs.SkipDir
			}
			return nil
		}
		if hidden || !d.Type().IsRegular() {
			return nil
		}
		if s.filter != nil && !s.filter.Include(p, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return apperr.IO("scan", p, err)
		}
		files = append(files, candidate{path: p, info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// observe fingerprints files concurrently. Results keep walk order and store
// is only read.
func (s *Scanner) observe(ctx context.Context, store *fingerprint.Store, files []candidate) ([]observation, error) {
	obs := make([]observation, len(files))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			id, known := store.Lookup(f.path)
			if known && !s.verify {
				prev, _ := store.Get(id)
				if prev.Size == f.info.Size() && prev.ModTime.Equal(f.info.ModTime()) {
					obs[i] = observation{id: id, unchanged: true}
					return nil
				}
			}
			data, err := fs.ReadFile(s.fsys, f.path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					obs[i] = observation{missing: true}
					return nil
				}
				return apperr.IO("fingerprint", f.path, err)
			}
			obs[i] = observation{
				id:   id,
				data: data,
				entry: fingerprint.Entry{
					Path:        f.path,
					Fingerprint: checksum.Fingerprint(data),
					Size:        int64(len(data)),
					ModTime:     f.info.ModTime(),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return obs, nil
}

// pairRenames matches vanished ids to newly seen paths with the same
// fingerprint. Each side pairs at most once; among several candidates the
// one sharing the old base name wins, then the lowest path.
func pairRenames(store *fingerprint.Store, gone []string, obs []observation, created []int) map[string]int {
	if len(gone) == 0 || len(created) == 0 {
		return nil
	}
	byPrint := make(map[string][]int)
	for _, i := range created {
		fp := obs[i].entry.Fingerprint
		byPrint[fp] = append(byPrint[fp], i)
	}

	ordered := slices.Clone(gone)
	slices.SortFunc(ordered, func(a, b string) int {
		ea, _ := store.Get(a)
		eb, _ := store.Get(b)
		return strings.Compare(ea.Path, eb.Path)
	})

	paired := make(map[string]int)
	taken := make(map[int]bool)
	for _, id := range ordered {
		prev, _ := store.Get(id)
		best := -1
		for _, i := range byPrint[prev.Fingerprint] {
			if taken[i] {
				continue
			}
			if best < 0 || better(prev.Path, obs[i].entry.Path, obs[best].entry.Path) {
				best = i
			}
		}
		if best >= 0 {
			paired[id] = best
			taken[best] = true
		}
	}
	return paired
}

func better(old, candidate, current string) bool {
	cs := path.Base(candidate) == path.Base(old)
	ss := path.Base(current) == path.Base(old)
	if cs != ss {
		return cs
	}
	return candidate < current
}
