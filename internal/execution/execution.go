package execution

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CommandSpec defines a command to run locally or on a remote host.
// Exactly one of Shell or Args must be set: Shell is handed to "sh -c" so
// pipes and redirection work, Args is executed directly with no shell
// interpretation.
type CommandSpec struct {
	Shell string   // shell command line, run via sh -c
	Args  []string // argument vector, run directly
	Dir   string   // optional working directory (local only)
	Env   []string // optional extra environment in KEY=VALUE form (local only)
	PTY   bool     // request a PTY; merges stdout and stderr into Stdout
}

// Validate checks that exactly one command representation is set.
func (s CommandSpec) Validate() error {
	hasShell := strings.TrimSpace(s.Shell) != ""
	hasArgs := len(s.Args) > 0
	if hasShell == hasArgs {
		return errors.New("exactly one of Shell or Args must be set")
	}
	return nil
}

// commandLine renders the spec as a single shell line, used for remote
// execution where the transport only carries a string.
func (s CommandSpec) commandLine() string {
	if s.Shell != "" {
		return s.Shell
	}
	return strings.Join(s.Args, " ")
}

// Display returns a printable form of the command for error messages.
func (s CommandSpec) Display() string {
	return s.commandLine()
}

// Result describes the outcome of a command invocation. ExitCode is nil
// while the command is still running or when it was forcibly terminated
// without the substrate reporting a status. A timed-out command still
// carries whatever output was captured before termination.
type Result struct {
	ExitCode *int
	Stdout   []byte
	Stderr   []byte
	TimedOut bool
	Duration time.Duration
}

// Exited reports whether the command reached a real exit status.
func (r Result) Exited() bool {
	return r.ExitCode != nil
}

// Status is the lifecycle state of an ExternalCommand.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed out"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status is sticky.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusTimedOut || s == StatusFailed
}

// SpawnError means the command could not be started at all: executable not
// found, the OS refused to create the process, or the remote side rejected
// the exec request. It is never coerced into an exit code.
type SpawnError struct {
	Cmd string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %q: %v", e.Cmd, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ConnectionError means the SSH connection or authentication failed before
// any command was started. Distinguishable from a remote command's own
// non-zero exit code, which travels through Result instead.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrChannelClosed is reported by Poll/Wait when the session or channel was
// torn down before the command completed.
var ErrChannelClosed = errors.New("channel closed before command completed")

// ErrAlreadyRun is returned when a run operation is invoked on an
// ExternalCommand that has already been started. Instances are single-use;
// build a new one to run again.
var ErrAlreadyRun = errors.New("command already run; create a new ExternalCommand")
