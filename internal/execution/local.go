package execution

import (
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/shirou/gopsutil/v3/process"
)

// TerminationGrace is how long a timed-out local command gets between
// SIGTERM and SIGKILL.
const TerminationGrace = 2 * time.Second

// ProcessRunner executes commands as local child processes with a
// wall-clock timeout. The zero value is ready to use.
type ProcessRunner struct {
	// Grace overrides TerminationGrace when > 0.
	Grace time.Duration
}

// Run spawns the command and blocks until it exits or timeout elapses.
// A timeout <= 0 waits indefinitely. On timeout the whole process tree is
// terminated and the partial output captured so far is returned with
// TimedOut set; ExitCode stays nil because the process never reported one.
// Spawn failures return a *SpawnError and no result.
func (r *ProcessRunner) Run(spec CommandSpec, timeout time.Duration) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	var cmd *exec.Cmd
	if spec.Shell != "" {
		cmd = exec.Command("sh", "-c", spec.Shell)
	} else {
		cmd = exec.Command(spec.Args[0], spec.Args[1:]...)
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}

	if spec.PTY {
		return r.runPTY(cmd, spec, timeout)
	}
	return r.runPiped(cmd, spec, timeout)
}

func (r *ProcessRunner) runPiped(cmd *exec.Cmd, spec CommandSpec, timeout time.Duration) (Result, error) {
	stdout := newCaptureBuffer()
	stderr := newCaptureBuffer()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group, so a timeout can take out everything the shell
	// form spawned, not just the immediate child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Cmd: spec.Display(), Err: err}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	res, err := r.race(cmd.Process.Pid, waitErr, timeout)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	res.Duration = time.Since(start)
	return res, err
}

func (r *ProcessRunner) runPTY(cmd *exec.Cmd, spec CommandSpec, timeout time.Duration) (Result, error) {
	combined := newCaptureBuffer()

	start := time.Now()
	// pty.Start puts the child in its own session, so pid == pgid.
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Result{}, &SpawnError{Cmd: spec.Display(), Err: err}
	}
	defer ptmx.Close()

	copyDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(combined, ptmx)
		close(copyDone)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	res, raceErr := r.race(cmd.Process.Pid, waitErr, timeout)
	<-copyDone
	// The PTY merges both streams.
	res.Stdout = combined.Bytes()
	res.Duration = time.Since(start)
	return res, raceErr
}

// race joins the process exit with a timer; whichever fires first wins and
// the loser is torn down. The wait goroutine is always reaped, so no zombie
// or dangling timer survives the call.
func (r *ProcessRunner) race(pid int, waitErr chan error, timeout time.Duration) (Result, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-waitErr:
		return resultFromWait(err)
	case <-timeoutC:
		terminateTree(pid, syscall.SIGTERM)
		select {
		case <-waitErr:
		case <-time.After(r.grace()):
			terminateTree(pid, syscall.SIGKILL)
			<-waitErr
		}
		return Result{TimedOut: true}, nil
	}
}

func (r *ProcessRunner) grace() time.Duration {
	if r.Grace > 0 {
		return r.Grace
	}
	return TerminationGrace
}

func resultFromWait(err error) (Result, error) {
	if err == nil {
		code := 0
		return Result{ExitCode: &code}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return Result{ExitCode: &code}, nil
	}
	return Result{}, err
}

// terminateTree signals the process group and any descendants that escaped
// it (double forks, setsid callers).
func terminateTree(pid int, sig syscall.Signal) {
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		if children, err := proc.Children(); err == nil {
			for _, child := range children {
				_ = syscall.Kill(int(child.Pid), sig)
			}
		}
	}
	_ = syscall.Kill(-pid, sig)
	_ = syscall.Kill(pid, sig)
}
