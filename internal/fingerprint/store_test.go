package fingerprint

import (
	"slices"
	"testing"
	"time"
)

func TestPutGetLookup(t *testing.T) {
	s := NewStore()
	s.Put("a", Entry{Path: "a.md", Fingerprint: "f1", LastSeen: 1})

	e, ok := s.Get("a")
	if !ok || e.Fingerprint != "f1" {
		t.Fatalf("Get = %+v, %v", e, ok)
	}
	if id, ok := s.Lookup("a.md"); !ok || id != "a" {
		t.Errorf("Lookup = %q, %v", id, ok)
	}
}

func TestPutMovesPath(t *testing.T) {
	s := NewStore()
	s.Put("a", Entry{Path: "old.md"})
	s.Put("a", Entry{Path: "new.md"})

	if _, ok := s.Lookup("old.md"); ok {
		t.Error("old path still mapped")
	}
	if id, _ := s.Lookup("new.md"); id != "a" {
		t.Errorf("new path id = %q, want a", id)
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.Put("a", Entry{Path: "a.md"})
	s.Remove("a")
	s.Remove("missing")
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
	if _, ok := s.Lookup("a.md"); ok {
		t.Error("path still mapped after remove")
	}
}

func TestStale(t *testing.T) {
	s := NewStore()
	s.Put("a", Entry{Path: "a.md", LastSeen: 3})
	s.Put("b", Entry{Path: "b.md", LastSeen: 3})
	s.Put("c", Entry{Path: "c.md", LastSeen: 2})
	s.Touch("a", 4)

	if got := s.Stale(4); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Stale(4) = %v, want [b c]", got)
	}
	if got := s.Stale(3); !slices.Equal(got, []string{"c"}) {
		t.Errorf("Stale(3) = %v, want [c]", got)
	}
}

func TestClone(t *testing.T) {
	s := NewStore()
	s.Put("a", Entry{Path: "a.md"})
	c := s.Clone()
	c.Put("b", Entry{Path: "b.md"})
	if s.Len() != 1 || c.Len() != 2 {
		t.Errorf("len original = %d, clone = %d", s.Len(), c.Len())
	}
}

func TestChanged(t *testing.T) {
	mod := time.Unix(1000, 0)
	base := NewStore()
	base.Put("a", Entry{Path: "a.md", Fingerprint: "f", Size: 1, ModTime: mod})
	base.Put("b", Entry{Path: "b.md", Fingerprint: "g", Size: 1, ModTime: mod})

	c := base.Clone()
	if c.Changed() {
		t.Fatal("fresh clone reports changes")
	}
	c.Touch("a", 7)
	c.Put("b", Entry{Path: "b.md", Fingerprint: "g", Size: 1, ModTime: mod, LastSeen: 7})
	if c.Changed() {
		t.Error("LastSeen-only updates reported as changes")
	}
	c.Put("b", Entry{Path: "b.md", Fingerprint: "g", Size: 1, ModTime: mod.Add(time.Second)})
	if !c.Changed() {
		t.Error("new mod time not reported as a change")
	}

	d := base.Clone()
	d.Remove("a")
	if !d.Changed() {
		t.Error("Remove not reported as a change")
	}
}

func TestSetSeen(t *testing.T) {
	s := NewStore()
	s.Put("a", Entry{Path: "a.md", LastSeen: 5})
	s.Put("b", Entry{Path: "b.md", LastSeen: 3})
	s.SetSeen(4)
	if got := s.Stale(5); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Stale(5) = %v, want [a b]", got)
	}
	if got := s.Stale(4); len(got) != 0 {
		t.Errorf("Stale(4) = %v, want none", got)
	}
}
