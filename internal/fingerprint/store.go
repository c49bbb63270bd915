// Package fingerprint tracks per-node content fingerprints for change detection.
package fingerprint

import (
	"slices"
	"time"
)

// Entry is the change-detection record of one node.
type Entry struct {
	Path        string
	Fingerprint string
	Size        int64
	ModTime     time.Time
	LastSeen    uint64
}

// Store maps node ids to their entries. It holds no link data.
type Store struct {
	entries map[string]Entry
	byPath  map[string]string
	changed bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]Entry),
		byPath:  make(map[string]string),
	}
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Lookup returns the id currently recorded at path.
func (s *Store) Lookup(path string) (string, bool) {
	id, ok := s.byPath[path]
	return id, ok
}

// Put inserts or replaces the entry for id.
func (s *Store) Put(id string, e Entry) {
	old, ok := s.entries[id]
	if ok && old.Path != e.Path {
		if s.byPath[old.Path] == id {
			delete(s.byPath, old.Path)
		}
	}
	if !ok || !sameFile(old, e) {
		s.changed = true
	}
	s.entries[id] = e
	s.byPath[e.Path] = id
}

// Touch marks id as seen in generation gen.
func (s *Store) Touch(id string, gen uint64) {
	if e, ok := s.entries[id]; ok {
		e.LastSeen = gen
		s.entries[id] = e
	}
}

// Remove deletes the entry for id.
func (s *Store) Remove(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	s.changed = true
	if s.byPath[e.Path] == id {
		delete(s.byPath, e.Path)
	}
}

// SetSeen marks every entry as seen in generation gen.
func (s *Store) SetSeen(gen uint64) {
	for id, e := range s.entries {
		e.LastSeen = gen
		s.entries[id] = e
	}
}

// Changed reports whether an entry was added, removed or altered (other than
// its LastSeen) since the store was created or cloned.
func (s *Store) Changed() bool { return s.changed }

func sameFile(a, b Entry) bool {
	return a.Path == b.Path && a.Fingerprint == b.Fingerprint &&
		a.Size == b.Size && a.ModTime.Equal(b.ModTime)
}

// Stale returns, sorted, the ids not seen in generation gen.
func (s *Store) Stale(gen uint64) []string {
	var out []string
	for id, e := range s.entries {
		if e.LastSeen < gen {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// IDs returns all ids, sorted.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Clone returns an independent copy of s.
func (s *Store) Clone() *Store {
	c := NewStore()
	for id, e := range s.entries {
		c.Put(id, e)
	}
	c.changed = false
	return c
}
