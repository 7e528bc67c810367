package execution

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// Handle represents one in-flight or completed remote command. A background
// goroutine waits on the SSH channel and publishes the terminal Result
// exactly once; Poll and Wait only ever read it. After completion both are
// idempotent and keep returning the same cached Result.
type Handle struct {
	sess    *ssh.Session
	stdout  *captureBuffer
	stderr  *captureBuffer
	started time.Time

	// result and err are written once by the watcher, before done is
	// closed. Readers must select on done first.
	done   chan struct{}
	result Result
	err    error
}

func newHandle(sess *ssh.Session) *Handle {
	return &Handle{
		sess:   sess,
		stdout: newCaptureBuffer(),
		stderr: newCaptureBuffer(),
		done:   make(chan struct{}),
	}
}

// watch is called once the command has been started on the channel.
func (h *Handle) watch() {
	h.started = time.Now()
	go func() {
		err := h.sess.Wait()
		res := Result{
			Stdout:   h.stdout.Bytes(),
			Stderr:   h.stderr.Bytes(),
			Duration: time.Since(h.started),
		}
		switch e := err.(type) {
		case nil:
			code := 0
			res.ExitCode = &code
		case *ssh.ExitError:
			code := e.ExitStatus()
			res.ExitCode = &code
		default:
			// Channel or session went away before an exit status arrived.
			h.err = fmt.Errorf("%w: %v", ErrChannelClosed, err)
		}
		h.result = res
		h.sess.Close()
		close(h.done)
	}()
}

// Poll reports the current state without blocking. While the command is
// still running it returns a snapshot with the output captured so far, a
// nil exit code and done=false. Once finished it returns the cached
// terminal Result, or ErrChannelClosed if the session was torn down first.
func (h *Handle) Poll() (Result, bool, error) {
	select {
	case <-h.done:
		return h.result, true, h.err
	default:
		return h.snapshot(), false, nil
	}
}

// Done reports whether the command has finished.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the command completes or timeout elapses; timeout <= 0
// waits indefinitely. On timeout the returned Result has TimedOut set and a
// nil exit code, and the remote process is NOT terminated: closing or
// abandoning the local channel does not imply a remote kill in this
// transport. Callers needing a guaranteed kill must use Session.Kill or
// Terminate explicitly.
func (h *Handle) Wait(timeout time.Duration) (Result, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case <-h.done:
		return h.result, h.err
	case <-timeoutC:
		res := h.snapshot()
		res.TimedOut = true
		return res, nil
	}
}

// Terminate asks the remote side to stop the command by sending SIGTERM
// over the channel. Best effort: not every server honors exec signals, so
// the guaranteed path is Session.Kill with the remote PID.
func (h *Handle) Terminate() error {
	if h.Done() {
		return nil
	}
	return h.sess.Signal(ssh.SIGTERM)
}

// Started returns when the command was launched.
func (h *Handle) Started() time.Time {
	return h.started
}

func (h *Handle) snapshot() Result {
	return Result{
		Stdout:   h.stdout.Bytes(),
		Stderr:   h.stderr.Bytes(),
		Duration: time.Since(h.started),
	}
}
