package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goforj/godump"
	"github.com/urfave/cli/v3"

	"hostrun/internal/config"
	"hostrun/internal/execution"
	"hostrun/internal/instance"
	"hostrun/internal/message"
)

const (
	exitUsage      = 64
	exitLockFailed = 65
	exitConnFailed = 66
	exitSpawnError = 67
	exitTimedOut   = 124
)

func main() {
	root := &cli.Command{
		Name:  "hostrun",
		Usage: "run shell commands locally or on remote hosts with timeouts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "hosts.yaml",
				Usage: "path to the host inventory file",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "suppress console output",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			batchCommand(),
			copyCommand(),
			fetchCommand(),
			killCommand(),
			initCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "run a command locally or on a configured host",
		ArgsUsage: "-- command [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "host alias from the inventory; empty runs locally"},
			&cli.DurationFlag{Name: "timeout", Usage: "wall-clock limit; 0 waits indefinitely"},
			&cli.BoolFlag{Name: "pty", Usage: "run in a PTY (local only, merges output streams)"},
			&cli.BoolFlag{Name: "debug", Usage: "dump the full result"},
			&cli.StringFlag{Name: "lock", Usage: "PID file enforcing a single running copy"},
			&cli.DurationFlag{Name: "poll", Value: time.Second, Usage: "status poll interval for remote commands"},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	msg := newMessage(cmd)
	msg.Retcodes[exitLockFailed] = "Another instance is running."
	msg.Retcodes[exitConnFailed] = "Could not connect to the remote host."
	msg.Retcodes[exitSpawnError] = "Command could not be started."
	msg.Retcodes[exitTimedOut] = "Command timed out."

	args := cmd.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("no command given", exitUsage)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if lockPath := lockPath(cmd, cfg); lockPath != "" {
		inst, err := instance.Acquire(lockPath, 0)
		if err != nil {
			msg.Eprint("[hired]" + err.Error() + "[/all]")
			msg.Quit(exitLockFailed)
		}
		defer inst.Release()
	}

	timeout, grace, err := timing(cmd, cfg)
	if err != nil {
		return err
	}

	spec := execution.CommandSpec{
		Shell: strings.Join(args, " "),
		PTY:   cmd.Bool("pty"),
	}
	ec := execution.New(spec,
		execution.WithTimeout(timeout),
		execution.WithGrace(grace))
	defer ec.Close()

	hostAlias := cmd.String("host")
	if hostAlias == "" {
		return runLocal(ctx, msg, ec, cmd)
	}
	return runRemote(ctx, msg, ec, cmd, cfg, hostAlias)
}

func runLocal(_ context.Context, msg *message.Message, ec *execution.ExternalCommand, cmd *cli.Command) error {
	res, err := ec.RunLocal()
	if err != nil {
		var spawnErr *execution.SpawnError
		if errors.As(err, &spawnErr) {
			msg.Eprint("[hired]" + err.Error() + "[/all]")
			msg.Quit(exitSpawnError)
		}
		return err
	}
	return report(msg, cmd, res)
}

func runRemote(ctx context.Context, msg *message.Message, ec *execution.ExternalCommand, cmd *cli.Command, cfg *config.Config, hostAlias string) error {
	host, ok := cfg.Hosts[hostAlias]
	if !ok {
		return fmt.Errorf("unknown host %q; define it in the inventory", hostAlias)
	}

	if err := ec.RunRemote(host.Address(), host.Credentials()); err != nil {
		var connErr *execution.ConnectionError
		if errors.As(err, &connErr) {
			msg.Eprint("[hired]" + err.Error() + "[/all]")
			msg.Quit(exitConnFailed)
		}
		return err
	}

	// Fire and poll: the command runs on its own while we display status.
	interval := cmd.Duration("poll")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for ec.Status() == execution.StatusRunning {
		msg.Logf(message.LevelDebug, "still running on %s after %s", hostAlias, time.Since(ec.Handle().Started()).Round(time.Second))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	res, err := ec.Wait(0)
	if err != nil {
		if errors.Is(err, execution.ErrChannelClosed) {
			msg.Eprint("[hired]" + err.Error() + "[/all]")
			msg.Quit(exitConnFailed)
		}
		return err
	}
	return report(msg, cmd, res)
}

func report(msg *message.Message, cmd *cli.Command, res execution.Result) error {
	if cmd.Bool("debug") {
		godump.Dump(res)
	}

	if len(res.Stdout) > 0 {
		fmt.Fprint(os.Stdout, string(res.Stdout))
	}
	if len(res.Stderr) > 0 {
		fmt.Fprint(os.Stderr, string(res.Stderr))
	}

	if res.TimedOut {
		msg.Quit(exitTimedOut)
	}
	if res.ExitCode != nil && *res.ExitCode != 0 {
		msg.Quit(*res.ExitCode)
	}
	return nil
}

func copyCommand() *cli.Command {
	return &cli.Command{
		Name:      "copy",
		Usage:     "upload a local file to a host",
		ArgsUsage: "local-path remote-path",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Required: true, Usage: "host alias from the inventory"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, err := sessionFor(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			if cmd.Args().Len() != 2 {
				return cli.Exit("copy needs a local path and a remote path", exitUsage)
			}
			return sess.Upload(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "download a file from a host",
		ArgsUsage: "remote-path local-path",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Required: true, Usage: "host alias from the inventory"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sess, err := sessionFor(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			if cmd.Args().Len() != 2 {
				return cli.Exit("fetch needs a remote path and a local path", exitUsage)
			}
			return sess.Download(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
		},
	}
}

func killCommand() *cli.Command {
	return &cli.Command{
		Name:      "kill",
		Usage:     "terminate a process on a host by PID (TERM, grace, then KILL)",
		ArgsUsage: "pid",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Required: true, Usage: "host alias from the inventory"},
			&cli.DurationFlag{Name: "grace", Value: execution.TerminationGrace, Usage: "wait between TERM and KILL"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pid, err := strconv.Atoi(cmd.Args().First())
			if err != nil || pid <= 0 {
				return cli.Exit("kill needs a positive PID", exitUsage)
			}
			sess, err := sessionFor(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			return sess.Kill(ctx, pid, cmd.Duration("grace"))
		},
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "write a starter inventory file",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.String("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GetDefaultConfigFile()), 0644)
		},
	}
}

func newMessage(cmd *cli.Command) *message.Message {
	var opts []message.Option
	if cmd.Bool("quiet") {
		opts = append(opts, message.WithQuiet())
	}
	return message.New(opts...)
}

// loadConfig reads the inventory; a missing default file just means
// local-only operation with built-in defaults.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !cmd.IsSet("config") {
			return &config.Config{}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := config.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func lockPath(cmd *cli.Command, cfg *config.Config) string {
	if cmd.IsSet("lock") {
		return cmd.String("lock")
	}
	return cfg.Defaults.LockFile
}

func timing(cmd *cli.Command, cfg *config.Config) (timeout, grace time.Duration, err error) {
	timeout, err = cfg.Timeout()
	if err != nil {
		return 0, 0, err
	}
	if cmd.IsSet("timeout") {
		timeout = cmd.Duration("timeout")
	}
	grace, err = cfg.Grace()
	if err != nil {
		return 0, 0, err
	}
	return timeout, grace, nil
}

func sessionFor(cmd *cli.Command) (*execution.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	alias := cmd.String("host")
	host, ok := cfg.Hosts[alias]
	if !ok {
		return nil, fmt.Errorf("unknown host %q; define it in the inventory", alias)
	}
	return execution.Connect(host.Address(), host.Credentials())
}
