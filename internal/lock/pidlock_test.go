package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), FileName)
	l, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected our PID in lock file, got %q", b)
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), FileName)
	l, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() { _ = l.Release() }()

	if _, err := Acquire(lockPath); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected already running error, got %v", err)
	}
}

func TestHolder(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), FileName)
	if _, held, err := Holder(lockPath); err != nil || held {
		t.Fatalf("Holder on missing file = held %v, err %v", held, err)
	}

	l, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pid, held, err := Holder(lockPath)
	if err != nil || !held || pid != os.Getpid() {
		t.Fatalf("Holder = (%d, %v, %v), want (%d, true, nil)", pid, held, err, os.Getpid())
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, held, err := Holder(lockPath); err != nil || held {
		t.Fatalf("Holder after release = held %v, err %v", held, err)
	}
}

func TestPathFor(t *testing.T) {
	t.Parallel()
	if got := PathFor("/var/lib/busdispatch/state.db"); got != "/var/lib/busdispatch/busdispatch.lock" {
		t.Fatalf("PathFor = %q", got)
	}
}
