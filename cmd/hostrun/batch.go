package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"hostrun/internal/config"
	"hostrun/internal/execution"
	"hostrun/internal/progress"
)

// batchResult is one host's outcome in a batch run.
type batchResult struct {
	alias string
	res   execution.Result
	err   error
}

func batchCommand() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "run a command on every host in the inventory, with a progress bar",
		ArgsUsage: "-- command [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "hosts", Usage: "comma-separated host aliases; empty means all"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "wall-clock limit per host"},
			&cli.BoolFlag{Name: "hide-failed", Usage: "omit the failure tail from the progress bar"},
		},
		Action: batchAction,
	}
}

func batchAction(ctx context.Context, cmd *cli.Command) error {
	msg := newMessage(cmd)

	args := cmd.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("no command given", exitUsage)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	aliases, err := selectHosts(cfg, cmd.String("hosts"))
	if err != nil {
		return err
	}
	if len(aliases) == 0 {
		return fmt.Errorf("no hosts in the inventory; add some or use run for local commands")
	}

	timeout := cmd.Duration("timeout")
	spec := execution.CommandSpec{Shell: strings.Join(args, " ")}

	prog := progress.New(len(aliases))
	stopDisplay := prog.Display(msg, progress.SummaryOptions{HideFailed: cmd.Bool("hide-failed")}, 250*time.Millisecond)

	results := make([]batchResult, len(aliases))
	var wg sync.WaitGroup
	for i, alias := range aliases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := runOnHost(cfg.Hosts[alias], spec, timeout)
			results[i] = batchResult{alias: alias, res: res, err: err}
			if err == nil && res.Exited() && *res.ExitCode == 0 {
				prog.Pass()
			} else {
				prog.Fail()
			}
		}()
	}
	wg.Wait()
	stopDisplay()

	failed := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			msg.Printf("[hired]%s[/all]: %v", r.alias, r.err)
			failed++
		case r.res.TimedOut:
			msg.Printf("[hibrown]%s[/all]: timed out after %s (remote process may still be running)", r.alias, timeout)
			failed++
		case *r.res.ExitCode != 0:
			msg.Printf("[hired]%s[/all]: exit %d\n%s", r.alias, *r.res.ExitCode, strings.TrimRight(string(r.res.Stderr), "\n"))
			failed++
		default:
			msg.Printf("[higreen]%s[/all]: ok (%s)", r.alias, r.res.Duration.Round(time.Millisecond))
		}
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d hosts failed", failed, len(aliases)), 1)
	}
	return nil
}

// runOnHost executes the command on one host over its own connection and
// waits for the outcome, at most timeout.
func runOnHost(host config.Host, spec execution.CommandSpec, timeout time.Duration) (execution.Result, error) {
	ec := execution.New(spec, execution.WithTimeout(timeout))
	defer ec.Close()

	if err := ec.RunRemote(host.Address(), host.Credentials()); err != nil {
		return execution.Result{}, err
	}
	return ec.Wait(timeout)
}

func selectHosts(cfg *config.Config, filter string) ([]string, error) {
	if strings.TrimSpace(filter) == "" {
		aliases := make([]string, 0, len(cfg.Hosts))
		for alias := range cfg.Hosts {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		return aliases, nil
	}

	var aliases []string
	for _, alias := range strings.Split(filter, ",") {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		if _, ok := cfg.Hosts[alias]; !ok {
			return nil, fmt.Errorf("unknown host %q; define it in the inventory", alias)
		}
		aliases = append(aliases, alias)
	}
	return aliases, nil
}
