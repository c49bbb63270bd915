package index

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/starford/nous/internal/apperr"
	"github.com/starford/nous/internal/checksum"
	"github.com/starford/nous/internal/fingerprint"
	"github.com/starford/nous/internal/graph"
	"github.com/starford/nous/internal/models"
	"github.com/starford/nous/internal/storage"
)

// FileName is the index file inside the metadata directory.
const FileName = "index.db"

// State is the durable realm state: the fingerprint of every node and the
// link graph over them, stamped with the generation that produced it.
type State struct {
	Generation uint64
	Store      *fingerprint.Store
	Graph      *graph.Graph
}

// NewState returns an empty generation-zero state.
func NewState(exts ...string) *State {
	return &State{Store: fingerprint.NewStore(), Graph: graph.New(exts...)}
}

// Clone returns an independent copy of s.
func (s *State) Clone() *State {
	return &State{Generation: s.Generation, Store: s.Store.Clone(), Graph: s.Graph.Clone()}
}

// DB reads and replaces the index file of one realm.
type DB struct {
	dir    string
	exts   []string
	logger *slog.Logger

	// fault, when set, is called between commit stages and aborts the commit
	// when it returns an error.
	fault func(stage string) error
}

// New returns a DB for the index file in metaDir. exts are the realm's node
// extensions, needed to rebuild the graph's resolver.
func New(metaDir string, logger *slog.Logger, exts ...string) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{dir: metaDir, exts: exts, logger: logger}
}

// Path returns the index file path.
func (db *DB) Path() string { return filepath.Join(db.dir, FileName) }

// Load returns the committed state, or an empty state when nothing has been
// committed yet. A file that cannot be trusted yields ErrIndexStale.
func (db *DB) Load() (*State, error) {
	if _, err := os.Stat(db.Path()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewState(db.exts...), nil
		}
		return nil, apperr.IO("load", db.Path(), err)
	}
	s, err := db.read(db.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrIndexStale, err)
	}
	return s, nil
}

// Generation returns the committed generation, 0 when there is none.
func (db *DB) Generation() (uint64, error) {
	if _, err := os.Stat(db.Path()); errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	conn, err := openDB(db.Path(), "mode=ro")
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrIndexStale, err)
	}
	defer conn.Close()
	var v string
	if err := conn.QueryRow(`SELECT value FROM meta WHERE key = 'generation'`).Scan(&v); err != nil {
		return 0, fmt.Errorf("%w: generation: %v", apperr.ErrIndexStale, err)
	}
	gen, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: generation: %v", apperr.ErrIndexStale, err)
	}
	return gen, nil
}

// Commit durably replaces the index file with s. The new file is written and
// verified beside the old one and renamed over it; on any failure the old
// file is left as it was.
//
// Commit must be called with the realm lock held: it also removes temp files
// an interrupted commit left behind.
func (db *DB) Commit(s *State) error {
	db.sweep()
	tmp, err := os.CreateTemp(db.dir, tempPattern)
	if err != nil {
		return apperr.IO("commit", db.dir, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
			os.Remove(tmpPath + "-journal")
		}
	}()

	sum, err := db.write(tmpPath, s)
	if err != nil {
		return apperr.IO("commit", tmpPath, err)
	}
	if err := db.hook("written"); err != nil {
		return err
	}

	check, err := db.read(tmpPath)
	if err != nil {
		return apperr.IO("verify", tmpPath, err)
	}
	if got := encode(check); checksum.Sum(got) != sum {
		return apperr.IO("verify", tmpPath, errors.New("checksum mismatch after write"))
	}

	if err := syncFile(tmpPath); err != nil {
		return apperr.IO("sync", tmpPath, err)
	}
	if err := db.hook("synced"); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, db.Path()); err != nil {
		return apperr.IO("rename", db.Path(), err)
	}
	committed = true
	if err := storage.SyncDir(db.dir); err != nil {
		return apperr.IO("sync", db.dir, err)
	}

	db.logger.Debug("index: committed",
		slog.Uint64("generation", s.Generation),
		slog.Int("nodes", s.Store.Len()))
	return nil
}

// tempPattern names commit temp files inside the metadata directory.
const tempPattern = ".index-*.db"

func (db *DB) sweep() {
	leftovers, _ := filepath.Glob(filepath.Join(db.dir, tempPattern+"*"))
	for _, p := range leftovers {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			db.logger.Warn("index: remove leftover temp file failed",
				slog.String("path", p),
				slog.String("error", err.Error()))
			continue
		}
		db.logger.Debug("index: removed leftover temp file", slog.String("path", p))
	}
}

func (db *DB) hook(stage string) error {
	if db.fault == nil {
		return nil
	}
	return db.fault(stage)
}

// write creates the schema in a fresh database at path and stores s,
// returning the checksum it recorded.
func (db *DB) write(path string, s *State) (string, error) {
	// Rollback journal rather than WAL: the file must be self-contained
	// before it is renamed.
	conn, err := openDB(path, "_journal_mode=DELETE&_synchronous=FULL")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Exec(schemaSQL); err != nil {
		return "", fmt.Errorf("index: apply schema: %w", err)
	}

	tx, err := conn.Begin()
	if err != nil {
		return "", fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	nodeStmt, err := tx.Prepare(`INSERT INTO nodes (id, path, title, fingerprint, size, mod_time, last_seen) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("index: prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for _, id := range s.Store.IDs() {
		e, _ := s.Store.Get(id)
		n, ok := s.Graph.Node(id)
		if !ok {
			return "", fmt.Errorf("index: node %s has a fingerprint but no graph entry", id)
		}
		if _, err := nodeStmt.Exec(id, e.Path, n.Title, e.Fingerprint, e.Size, unixNano(e.ModTime), e.LastSeen); err != nil {
			return "", fmt.Errorf("index: insert node: %w", err)
		}
	}

	linkStmt, err := tx.Prepare(`INSERT INTO links (source, seq, target, section, alias, byte_offset, line, kind, ids) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer linkStmt.Close()
	for _, id := range s.Store.IDs() {
		for seq, l := range s.Graph.Links(id) {
			ids, _ := json.Marshal(l.Resolution.IDs)
			if l.Resolution.IDs == nil {
				ids = []byte("[]")
			}
			if _, err := linkStmt.Exec(id, seq, l.Link.Target, l.Link.Section, l.Link.Alias,
				l.Link.Offset, l.Link.Line, int(l.Resolution.Kind), string(ids)); err != nil {
				return "", fmt.Errorf("index: insert link: %w", err)
			}
		}
	}

	sum := checksum.Sum(encode(s))
	meta := map[string]string{
		"schema_version": strconv.Itoa(SchemaVersion),
		"generation":     strconv.FormatUint(s.Generation, 10),
		"checksum":       sum,
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return "", fmt.Errorf("index: insert meta: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("index: commit tx: %w", err)
	}
	return sum, nil
}

// read loads and checks the database at path. Migrations run inside a
// transaction that is rolled back, so the file itself is never modified.
func (db *DB) read(path string) (*State, error) {
	conn, err := openDB(path, "mode=rw")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	meta, err := readMeta(tx)
	if err != nil {
		return nil, err
	}
	version, err := strconv.Atoi(meta["schema_version"])
	if err != nil {
		return nil, fmt.Errorf("index: schema_version: %w", err)
	}
	if err := migrate(tx, version); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	gen, err := strconv.ParseUint(meta["generation"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("index: generation: %w", err)
	}

	s := NewState(db.exts...)
	s.Generation = gen

	nodes, err := readNodes(tx, s.Store)
	if err != nil {
		return nil, err
	}
	links, err := readLinks(tx)
	if err != nil {
		return nil, err
	}
	if err := s.Graph.Restore(nodes, links); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if err := s.Graph.Check(); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if got := checksum.Sum(encode(s)); got != meta["checksum"] {
		return nil, fmt.Errorf("index: checksum mismatch: stored %s, computed %s", meta["checksum"], got)
	}
	return s, nil
}

func readMeta(tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("index: read meta: %w", err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("index: read meta: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: read meta: %w", err)
	}
	for _, k := range []string{"schema_version", "generation", "checksum"} {
		if _, ok := meta[k]; !ok {
			return nil, fmt.Errorf("index: meta key %q missing", k)
		}
	}
	return meta, nil
}

func readNodes(tx *sql.Tx, store *fingerprint.Store) ([]models.Node, error) {
	rows, err := tx.Query(`SELECT id, path, title, fingerprint, size, mod_time, last_seen FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("index: read nodes: %w", err)
	}
	defer rows.Close()
	var nodes []models.Node
	for rows.Next() {
		var (
			n     models.Node
			e     fingerprint.Entry
			mtime int64
		)
		if err := rows.Scan(&n.ID, &e.Path, &n.Title, &e.Fingerprint, &e.Size, &mtime, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("index: read nodes: %w", err)
		}
		e.ModTime = fromUnixNano(mtime)
		n.Path = e.Path
		store.Put(n.ID, e)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: read nodes: %w", err)
	}
	return nodes, nil
}

func readLinks(tx *sql.Tx) ([]models.ResolvedLink, error) {
	rows, err := tx.Query(`SELECT source, target, section, alias, byte_offset, line, kind, ids FROM links ORDER BY source, seq`)
	if err != nil {
		return nil, fmt.Errorf("index: read links: %w", err)
	}
	defer rows.Close()
	var out []models.ResolvedLink
	for rows.Next() {
		var (
			l    models.ResolvedLink
			kind int
			ids  string
		)
		if err := rows.Scan(&l.Source, &l.Link.Target, &l.Link.Section, &l.Link.Alias,
			&l.Link.Offset, &l.Link.Line, &kind, &ids); err != nil {
			return nil, fmt.Errorf("index: read links: %w", err)
		}
		l.Resolution.Kind = models.ResolutionKind(kind)
		if err := json.Unmarshal([]byte(ids), &l.Resolution.IDs); err != nil {
			return nil, fmt.Errorf("index: link ids: %w", err)
		}
		if len(l.Resolution.IDs) == 0 {
			l.Resolution.IDs = nil
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: read links: %w", err)
	}
	return out, nil
}

// encode is the canonical byte form of s that the stored checksum covers.
func encode(s *State) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "v%d g%d\n", SchemaVersion, s.Generation)
	for _, id := range s.Store.IDs() {
		e, _ := s.Store.Get(id)
		n, _ := s.Graph.Node(id)
		fmt.Fprintf(&b, "n %q %q %q %s %d %d %d\n", id, e.Path, n.Title, e.Fingerprint, e.Size, unixNano(e.ModTime), e.LastSeen)
		for _, l := range s.Graph.Links(id) {
			fmt.Fprintf(&b, "l %q %q %q %d %d %d %q\n", l.Link.Target, l.Link.Section, l.Link.Alias,
				l.Link.Offset, l.Link.Line, l.Resolution.Kind, l.Resolution.IDs)
		}
	}
	return b.Bytes()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
