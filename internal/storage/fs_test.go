package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/nous/internal/apperr"
)

func tempRealm(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func mustRead(t *testing.T, s *FS, path string) string {
	t.Helper()
	data, err := s.Read(path)
	if err != nil {
		t.Fatalf("Read(%s): %v", path, err)
	}
	return string(data)
}

func TestWrite_CreatesAndReplaces(t *testing.T) {
	s := tempRealm(t)
	if err := s.Write("a/b/note.md", []byte("v1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write("a/b/note.md", []byte("v2")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := mustRead(t, s, "a/b/note.md"); got != "v2" {
		t.Errorf("content = %q, want v2", got)
	}
	if left, _ := filepath.Glob(filepath.Join(s.Root(), "a", "b", tempPattern)); len(left) != 0 {
		t.Errorf("leftover temp files: %v", left)
	}
}

func TestWrite_KeepsMode(t *testing.T) {
	s := tempRealm(t)
	abs := filepath.Join(s.Root(), "ro.md")
	if err := os.WriteFile(abs, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("ro.md", []byte("y")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("mode = %v, want 0600", got)
	}
}

func TestCreate(t *testing.T) {
	s := tempRealm(t)
	if err := s.Create("sub/new.md", []byte("hi")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := mustRead(t, s, "sub/new.md"); got != "hi" {
		t.Errorf("content = %q", got)
	}
	if err := s.Create("sub/new.md", []byte("again")); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("second Create = %v, want ErrAlreadyExists", err)
	}
}

func TestTouch(t *testing.T) {
	s := tempRealm(t)
	_ = s.Write("t.md", nil)
	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Touch("t.md", when); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	info, _ := os.Stat(filepath.Join(s.Root(), "t.md"))
	if !info.ModTime().Equal(when) {
		t.Errorf("mod time = %v, want %v", info.ModTime(), when)
	}
	if err := s.Touch("ghost.md", when); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Touch missing = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempRealm(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Read deleted = %v, want ErrNotFound", err)
	}
	if err := s.Delete("del.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}
}

func TestMove(t *testing.T) {
	s := tempRealm(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if got := mustRead(t, s, "sub/new.md"); got != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("old path still readable: %v", err)
	}
}

func TestMove_RefusesOverwrite(t *testing.T) {
	s := tempRealm(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("b.md", []byte("b"))
	if err := s.Move("a.md", "b.md"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("Move onto existing = %v, want ErrAlreadyExists", err)
	}
	if err := s.Move("missing.md", "c.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Move missing = %v, want ErrNotFound", err)
	}
	if got := mustRead(t, s, "b.md"); got != "b" {
		t.Errorf("target overwritten: %q", got)
	}
	if got := mustRead(t, s, "a.md"); got != "a" {
		t.Errorf("source changed: %q", got)
	}
}

func TestPathsConfined(t *testing.T) {
	s := tempRealm(t)
	for _, p := range []string{
		"",
		"../outside.md",
		"a/../../outside.md",
		"/etc/passwd",
		".nous/index.db",
		"dir/.hidden.md",
	} {
		if _, err := s.Abs(p); err == nil {
			t.Errorf("Abs(%q) succeeded", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("Write(%q) succeeded", p)
		}
	}
	got, err := s.Abs("a/./b.md")
	if want := filepath.Join(s.Root(), "a", "b.md"); err != nil || got != want {
		t.Errorf("Abs(a/./b.md) = %q, %v; want %q", got, err, want)
	}
}

func TestNewFS_Errors(t *testing.T) {
	if _, err := NewFS(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewFS on a missing dir succeeded")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file); err == nil {
		t.Error("NewFS on a file succeeded")
	}
}
