package execution

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"
)

const DefaultSSHPort = 22

// Credentials holds SSH authentication material. Key-file auth is tried
// first when both a key and a password are set.
type Credentials struct {
	Username    string
	Password    string
	KeyFile     string
	KeyPassword string
}

// Session owns one authenticated SSH connection to a remote host. Command
// channels are opened on it with Start; the connection is reused across
// commands and released by Close. Channel allocation is serialized, so
// sequential Start calls from different goroutines are safe.
type Session struct {
	mu     sync.Mutex
	client *ssh.Client
	host   string
	closed bool
}

// Connect dials the host and authenticates. Failures of any kind before a
// command runs (unreachable host, bad key, rejected auth) come back as a
// *ConnectionError so callers can tell them apart from command failures.
func Connect(host string, creds Credentials) (*Session, error) {
	cfg, err := clientConfig(creds)
	if err != nil {
		return nil, &ConnectionError{Host: host, Err: err}
	}

	addr := host
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, DefaultSSHPort)
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, &ConnectionError{Host: host, Err: err}
	}
	return &Session{client: client, host: host}, nil
}

func clientConfig(creds Credentials) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if creds.KeyFile != "" {
		keyData, err := os.ReadFile(ExpandTilde(creds.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		var signer ssh.Signer
		if creds.KeyPassword != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(creds.KeyPassword))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method: set KeyFile or Password")
	}

	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}, nil
}

// Host returns the host this session is connected to.
func (s *Session) Host() string {
	return s.host
}

// Start opens a new channel on the session and launches the command on it.
// It returns as soon as the exec request is accepted; completion is
// observed through the returned Handle. Dir, Env and PTY fields of the
// spec are ignored for remote commands.
func (s *Session) Start(spec CommandSpec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrChannelClosed
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, &ConnectionError{Host: s.host, Err: err}
	}

	h := newHandle(sess)
	sess.Stdout = h.stdout
	sess.Stderr = h.stderr
	line := spec.commandLine()
	if err := sess.Start(line); err != nil {
		sess.Close()
		return nil, &SpawnError{Cmd: line, Err: err}
	}
	h.watch()
	return h, nil
}

// run executes a command synchronously on a fresh channel. Used by Kill and
// friends; the exit code is all that matters here.
func (s *Session) run(ctx context.Context, line string) (int, error) {
	h, err := s.Start(CommandSpec{Shell: line})
	if err != nil {
		return -1, err
	}

	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	res, err := h.Wait(timeout)
	if err != nil {
		return -1, err
	}
	if res.ExitCode == nil {
		return -1, nil
	}
	return *res.ExitCode, nil
}

// Kill terminates a remote process (group) by PID: TERM first, a grace
// period, then KILL if it is still alive. This is the explicit kill
// operation; abandoning a Handle never stops the remote process.
func (s *Session) Kill(ctx context.Context, pid int, grace time.Duration) error {
	if grace <= 0 {
		grace = TerminationGrace
	}

	_, _ = s.run(ctx, fmt.Sprintf("kill -TERM -%d 2>/dev/null || kill -TERM %d 2>/dev/null || true", pid, pid))

	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	alive, err := s.processAlive(ctx, pid)
	if err != nil {
		return err
	}
	if alive {
		_, _ = s.run(ctx, fmt.Sprintf("kill -KILL -%d 2>/dev/null || kill -KILL %d 2>/dev/null || true", pid, pid))
		alive, err = s.processAlive(ctx, pid)
		if err != nil {
			return err
		}
		if alive {
			return fmt.Errorf("process %d on %s still running after SIGKILL", pid, s.host)
		}
	}
	return nil
}

// processAlive probes a remote PID with signal 0.
func (s *Session) processAlive(ctx context.Context, pid int) (bool, error) {
	code, err := s.run(ctx, fmt.Sprintf("kill -0 %d 2>/dev/null", pid))
	if err != nil {
		return false, err
	}
	return code == 0, nil
}

// Upload copies a local file to the remote host.
func (s *Session) Upload(ctx context.Context, localPath, remotePath string) error {
	client, err := scp.NewClientBySSH(s.client)
	if err != nil {
		return fmt.Errorf("creating scp client: %w", err)
	}
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer file.Close()
	if err := client.CopyFile(ctx, file, remotePath, "0755"); err != nil {
		return fmt.Errorf("uploading %s: %w", localPath, err)
	}
	return nil
}

// Download copies a file from the remote host to the local machine.
func (s *Session) Download(ctx context.Context, remotePath, localPath string) error {
	client, err := scp.NewClientBySSH(s.client)
	if err != nil {
		return fmt.Errorf("creating scp client: %w", err)
	}
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating local file: %w", err)
	}
	defer file.Close()
	if err := client.CopyFromRemote(ctx, file, remotePath); err != nil {
		return fmt.Errorf("downloading %s: %w", remotePath, err)
	}
	return nil
}

// Close tears down the connection. Handles still in flight observe
// ErrChannelClosed on their next Poll or Wait.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// ExpandTilde expands a leading ~ to $HOME and substitutes environment
// variables, so key paths like ~/.ssh/id_rsa or $HOME/.ssh/$KEY_NAME work.
func ExpandTilde(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = os.Getenv("HOME") + path[1:]
	}
	return os.ExpandEnv(path)
}
