// Package instance enforces a single running copy of a program using a
// locking PID file. The file holds the live PID; stale files left behind by
// a crashed process are detected and taken over.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrAlreadyRunning means another live process holds the PID file.
var ErrAlreadyRunning = errors.New("another instance is already running")

const waitPollInterval = 500 * time.Millisecond

// Instance is a held PID-file lock. Release it when the program exits.
type Instance struct {
	Path string
	PID  int
	file *os.File
}

// Acquire takes the PID-file lock at path. If a previous instance is still
// alive and wait > 0, Acquire blocks up to wait for it to exit before
// giving up with ErrAlreadyRunning.
func Acquire(path string, wait time.Duration) (*Instance, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("pid file parent directory %s does not exist", dir)
	}

	oldPID, hasOld := readPID(path)
	if hasOld && pidAlive(oldPID) {
		if wait <= 0 {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, oldPID)
		}
		if err := waitForExit(oldPID, wait); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening pid file: %w", err)
	}

	// Non-blocking: losing the race means another instance just started.
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrAlreadyRunning, err)
	}

	pid := os.Getpid()
	if err := file.Truncate(0); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(pid)), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("writing pid file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("syncing pid file: %w", err)
	}

	return &Instance{Path: path, PID: pid, file: file}, nil
}

// Release unlocks and removes the PID file.
func (i *Instance) Release() error {
	if i.file == nil {
		return nil
	}
	_ = syscall.Flock(int(i.file.Fd()), syscall.LOCK_UN)
	removeErr := os.Remove(i.Path)
	closeErr := i.file.Close()
	i.file = nil
	if removeErr != nil {
		return removeErr
	}
	return closeErr
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

func waitForExit(pid int, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for pidAlive(pid) {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w (pid %d did not exit within %v)", ErrAlreadyRunning, pid, wait)
		}
		<-ticker.C
	}
	return nil
}
