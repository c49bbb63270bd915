//go:build unix

package lock

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/nous/internal/apperr"
)

const holderEnv = "NOUS_LOCK_HOLDER_DIR"

// TestHelperProcess holds the lock in a child process until it is killed.
func TestHelperProcess(t *testing.T) {
	dir := os.Getenv(holderEnv)
	if dir == "" {
		t.Skip("runs only as a child of TestAcquire_HolderKilled")
	}
	l, err := Acquire(context.Background(), dir, 0)
	if err != nil {
		os.Exit(2)
	}
	os.Stdout.WriteString("held\n")
	time.Sleep(time.Minute)
	l.Release()
	os.Exit(0)
}

func TestAcquire_HolderKilled(t *testing.T) {
	dir := t.TempDir()
	child := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	child.Env = append(os.Environ(), holderEnv+"="+dir)
	out, err := child.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := child.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = child.Process.Kill()
		_ = child.Wait()
	})

	held := false
	for sc := bufio.NewScanner(out); sc.Scan(); {
		if sc.Text() == "held" {
			held = true
			break
		}
	}
	if !held {
		t.Fatal("child never took the lock")
	}
	if _, err := Acquire(context.Background(), dir, 50*time.Millisecond); !errors.Is(err, apperr.ErrLocked) {
		t.Fatalf("Acquire while child holds = %v, want ErrLocked", err)
	}

	if err := child.Process.Kill(); err != nil {
		t.Fatal(err)
	}
	_ = child.Wait()

	l, err := Acquire(context.Background(), dir, time.Second)
	if err != nil {
		t.Fatalf("Acquire after holder died = %v", err)
	}
	l.Release()
}

func TestAcquire_LeftoverFileIsFree(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := Acquire(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("Acquire with a leftover lock file = %v", err)
	}
	l.Release()
}
