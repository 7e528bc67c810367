package instance

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")

	inst, err := Acquire(path, 0)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if inst.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", inst.PID, os.Getpid())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("pid file not written: %v", err)
	}
	if got := string(data); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("pid file contains %q, want %q", got, strconv.Itoa(os.Getpid()))
	}

	if err := inst.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file should be removed after Release")
	}

	// Release is idempotent.
	if err := inst.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}
}

func TestAcquireRejectsLivePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")

	// Our own PID is definitely alive.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(path, 0)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestAcquireTakesOverStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")

	// Above the kernel's pid_max ceiling, so never a live process.
	if err := os.WriteFile(path, []byte("4999999"), 0644); err != nil {
		t.Fatal(err)
	}

	inst, err := Acquire(path, 0)
	if err != nil {
		t.Fatalf("Acquire with stale pid failed: %v", err)
	}
	defer inst.Release()
}

func TestAcquireIgnoresGarbagePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	if err := os.WriteFile(path, []byte("not a pid"), 0644); err != nil {
		t.Fatal(err)
	}

	inst, err := Acquire(path, 0)
	if err != nil {
		t.Fatalf("Acquire with garbage pid file failed: %v", err)
	}
	defer inst.Release()
}

func TestAcquireMissingParentDir(t *testing.T) {
	_, err := Acquire("/nonexistent-hostrun-dir/app.pid", 0)
	if err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestAcquireWaitTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err := Acquire(path, 600*time.Millisecond)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Error("Acquire returned before the wait elapsed")
	}
}
