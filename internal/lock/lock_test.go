package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sessions", "test", "LOCK")
}

func TestAcquireAndRelease(t *testing.T) {
	path := lockPath(t)

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	info, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", info.PID, os.Getpid())
	}
	if time.Since(info.Acquired) > time.Minute {
		t.Errorf("Acquired = %v, want recent", info.Acquired)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file should be removed on release: %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	path := lockPath(t)

	l1, err := Acquire(path)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(path)
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", lockErr.Holder.PID, os.Getpid())
	}
}

func TestReadMissing(t *testing.T) {
	if _, err := Read(lockPath(t)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read() error = %v, want ErrNotExist", err)
	}
}

func TestParse(t *testing.T) {
	info := parse("pid=42\ntime=2025-01-15T12:00:00Z\n")
	if info.PID != 42 {
		t.Errorf("PID = %d, want 42", info.PID)
	}
	if !info.Acquired.Equal(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Acquired = %v", info.Acquired)
	}
	if parse("garbage").PID != 0 {
		t.Error("garbage should parse to zero PID")
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l, err := Acquire(lockPath(t))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
