package execution

import (
	"sync"
	"time"
)

// ExternalCommand is the transport-neutral façade over local and remote
// execution. It presents one result shape (exit code, stdout, stderr,
// timed-out flag) regardless of how the command ran, and tolerates
// concurrent read-only polling of those fields while the command runs.
//
// An instance is single-use: Idle until a run call, Running while the
// substrate works, then stuck in Completed, TimedOut or Failed. A second
// run call returns ErrAlreadyRun; build a new instance to run again.
type ExternalCommand struct {
	mu      sync.RWMutex
	spec    CommandSpec
	timeout time.Duration
	runner  ProcessRunner

	status     Status
	result     Result
	runErr     error
	session    *Session
	ownSession bool
	handle     *Handle
}

// Option configures an ExternalCommand at construction.
type Option func(*ExternalCommand)

// WithTimeout sets the wall-clock timeout for both transports. Zero means
// wait indefinitely. Locally the timeout force-kills the process tree; for
// remote commands it only abandons the wait, the remote process keeps
// running unless explicitly killed.
func WithTimeout(d time.Duration) Option {
	return func(c *ExternalCommand) { c.timeout = d }
}

// WithSession makes RunRemote use an existing session instead of opening
// its own connection. The caller keeps ownership: Close will not touch it,
// and several commands against the same host can share one connection.
func WithSession(s *Session) Option {
	return func(c *ExternalCommand) { c.session = s }
}

// WithGrace sets the SIGTERM-to-SIGKILL grace for local timeouts.
func WithGrace(d time.Duration) Option {
	return func(c *ExternalCommand) { c.runner.Grace = d }
}

// New builds an ExternalCommand for the given spec.
func New(spec CommandSpec, opts ...Option) *ExternalCommand {
	c := &ExternalCommand{spec: spec}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunLocal executes the command as a local child process and blocks until
// it exits or the configured timeout fires.
func (c *ExternalCommand) RunLocal() (Result, error) {
	if err := c.begin(); err != nil {
		return Result{}, err
	}
	res, err := c.runner.Run(c.spec, c.timeout)
	c.finish(res, err)
	return res, err
}

// RunRemote starts the command on the given host and returns immediately;
// it blocks only for connecting and launching, never for command progress.
// Connection and spawn failures surface synchronously and leave the
// instance Failed. Completion is observed through Poll, Wait or the field
// accessors.
func (c *ExternalCommand) RunRemote(host string, creds Credentials) error {
	if err := c.begin(); err != nil {
		return err
	}

	c.mu.RLock()
	sess := c.session
	c.mu.RUnlock()

	if sess == nil {
		var err error
		sess, err = Connect(host, creds)
		if err != nil {
			c.finish(Result{}, err)
			return err
		}
		c.mu.Lock()
		c.session = sess
		c.ownSession = true
		c.mu.Unlock()
	}

	h, err := sess.Start(c.spec)
	if err != nil {
		c.finish(Result{}, err)
		return err
	}

	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()

	// Watcher records the terminal state; a timeout here abandons the
	// wait without killing the remote process.
	go func() {
		res, err := h.Wait(c.timeout)
		c.finish(res, err)
	}()
	return nil
}

// Wait blocks until the command reaches a terminal state or timeout
// elapses; timeout <= 0 waits indefinitely. For a local command (which ran
// synchronously) it returns the stored result right away. Calling Wait
// repeatedly after completion returns the same Result.
func (c *ExternalCommand) Wait(timeout time.Duration) (Result, error) {
	c.mu.RLock()
	h := c.handle
	c.mu.RUnlock()

	if h == nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.result, c.runErr
	}

	res, err := h.Wait(timeout)
	if !res.TimedOut {
		c.finish(res, err)
	}
	return res, err
}

// Poll reports the current result snapshot and status without blocking.
func (c *ExternalCommand) Poll() (Result, Status) {
	c.mu.RLock()
	h := c.handle
	status := c.status
	result := c.result
	c.mu.RUnlock()

	if status == StatusRunning && h != nil {
		res, done, herr := h.Poll()
		if !done {
			return res, StatusRunning
		}
		// The watcher goroutine may not have recorded it yet; report the
		// terminal state it is about to write.
		return res, terminalStatus(res, herr)
	}
	return result, status
}

// Status returns the current lifecycle state.
func (c *ExternalCommand) Status() Status {
	_, status := c.Poll()
	return status
}

// Result returns the current result snapshot: partial while Running,
// immutable once terminal.
func (c *ExternalCommand) Result() Result {
	res, _ := c.Poll()
	return res
}

// ExitCode is nil until the substrate reports a real exit status.
func (c *ExternalCommand) ExitCode() *int {
	return c.Result().ExitCode
}

// Stdout returns the output captured so far.
func (c *ExternalCommand) Stdout() []byte {
	return c.Result().Stdout
}

// Stderr returns the error output captured so far.
func (c *ExternalCommand) Stderr() []byte {
	return c.Result().Stderr
}

// TimedOut reports whether the command hit its timeout.
func (c *ExternalCommand) TimedOut() bool {
	return c.Result().TimedOut
}

// Err returns the synchronous run error, if any.
func (c *ExternalCommand) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runErr
}

// Session exposes the session used by RunRemote, for follow-up work on the
// same connection (explicit kills, file transfer). Nil before RunRemote.
func (c *ExternalCommand) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Handle exposes the remote command handle. Nil for local runs.
func (c *ExternalCommand) Handle() *Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

// Close releases the session if this command opened it. Closing while the
// remote command is still running makes its next Poll/Wait report
// ErrChannelClosed rather than a silent empty result.
func (c *ExternalCommand) Close() error {
	c.mu.Lock()
	sess := c.session
	own := c.ownSession
	c.mu.Unlock()

	if sess != nil && own {
		return sess.Close()
	}
	return nil
}

func (c *ExternalCommand) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.spec.Validate(); err != nil {
		return err
	}
	if c.status != StatusIdle {
		return ErrAlreadyRun
	}
	c.status = StatusRunning
	return nil
}

// finish records the terminal state once; later calls are ignored so the
// result stays immutable.
func (c *ExternalCommand) finish(res Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusRunning {
		return
	}
	c.result = res
	c.runErr = err
	c.status = terminalStatus(res, err)
}

func terminalStatus(res Result, err error) Status {
	switch {
	case err != nil:
		return StatusFailed
	case res.TimedOut:
		return StatusTimedOut
	default:
		return StatusCompleted
	}
}
