// Package testutil provides shared test helpers for setting up realms.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/nous/internal/realm"
)

// Quiet discards everything logged to it.
var Quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// WriteFiles writes files, keyed by slash-separated relative path, under dir.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// TestRealmDir initializes a realm in a temporary directory holding files.
func TestRealmDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := realm.Init(dir); err != nil {
		t.Fatalf("Init: %v", err)
	}
	WriteFiles(t, dir, files)
	return dir
}

// TestRealm opens an indexed realm holding files that is closed on cleanup.
func TestRealm(t *testing.T, files map[string]string) (*realm.Realm, string) {
	t.Helper()
	dir := TestRealmDir(t, files)
	rlm, err := realm.Open(dir, realm.WithLogger(Quiet), realm.WithLockTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { rlm.Close() })
	if _, err := rlm.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	return rlm, dir
}
