package execution

import (
	"errors"
	"testing"
	"time"
)

func TestExternalCommandRunLocal(t *testing.T) {
	cmd := New(CommandSpec{Shell: `echo "test1" && echo "test2"`})

	res, err := cmd.RunLocal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", res.ExitCode)
	}
	if got := string(cmd.Stdout()); got != "test1\ntest2\n" {
		t.Errorf("stdout = %q, want %q", got, "test1\ntest2\n")
	}
	if cmd.Status() != StatusCompleted {
		t.Errorf("status = %v, want %v", cmd.Status(), StatusCompleted)
	}
	if cmd.ExitCode() == nil || *cmd.ExitCode() != 0 {
		t.Errorf("façade exit code = %v, want 0", cmd.ExitCode())
	}
}

func TestExternalCommandSingleUse(t *testing.T) {
	cmd := New(CommandSpec{Shell: "true"})

	if _, err := cmd.RunLocal(); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := cmd.RunLocal(); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second RunLocal error = %v, want ErrAlreadyRun", err)
	}
	if err := cmd.RunRemote("localhost", Credentials{Password: "x", Username: "x"}); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("RunRemote after RunLocal error = %v, want ErrAlreadyRun", err)
	}
}

func TestExternalCommandTimeoutState(t *testing.T) {
	cmd := New(CommandSpec{Shell: "sleep 30"},
		WithTimeout(300*time.Millisecond), WithGrace(100*time.Millisecond))

	res, err := cmd.RunLocal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if cmd.Status() != StatusTimedOut {
		t.Errorf("status = %v, want %v", cmd.Status(), StatusTimedOut)
	}
	if cmd.ExitCode() != nil {
		t.Errorf("expected nil exit code, got %d", *cmd.ExitCode())
	}
	if !cmd.TimedOut() {
		t.Error("façade TimedOut() = false, want true")
	}
}

func TestExternalCommandSpawnFailureState(t *testing.T) {
	cmd := New(CommandSpec{Args: []string{"/nonexistent/hostrun-test-binary"}})

	_, err := cmd.RunLocal()
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *SpawnError, got %v", err)
	}
	if cmd.Status() != StatusFailed {
		t.Errorf("status = %v, want %v", cmd.Status(), StatusFailed)
	}
	if !errors.As(cmd.Err(), &spawnErr) {
		t.Errorf("Err() = %v, want the spawn error", cmd.Err())
	}
}

func TestExternalCommandInvalidSpec(t *testing.T) {
	cmd := New(CommandSpec{})

	if _, err := cmd.RunLocal(); err == nil {
		t.Fatal("expected validation error for empty spec")
	}
	if cmd.Status() != StatusIdle {
		t.Errorf("status = %v, want %v after rejected run", cmd.Status(), StatusIdle)
	}
}

func TestExternalCommandConcurrentPolling(t *testing.T) {
	cmd := New(CommandSpec{Shell: "sleep 0.3 && echo done"})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if _, err := cmd.RunLocal(); err != nil {
			t.Errorf("RunLocal failed: %v", err)
		}
	}()

	// Poll the façade's fields while the command runs, like a progress
	// display would.
	deadline := time.After(5 * time.Second)
	for cmd.Status() != StatusCompleted {
		_ = cmd.ExitCode()
		_ = cmd.Stdout()
		_ = cmd.TimedOut()
		select {
		case <-deadline:
			t.Fatal("command never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	<-runDone

	if got := string(cmd.Stdout()); got != "done\n" {
		t.Errorf("stdout = %q, want %q", got, "done\n")
	}
}

func TestExternalCommandWaitWithoutRemote(t *testing.T) {
	cmd := New(CommandSpec{Shell: "echo x"})
	if _, err := cmd.RunLocal(); err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}

	first, err := cmd.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	second, err := cmd.Wait(time.Second)
	if err != nil {
		t.Fatalf("second Wait failed: %v", err)
	}
	if string(first.Stdout) != string(second.Stdout) || *first.ExitCode != *second.ExitCode {
		t.Error("repeated Wait calls returned different results")
	}
}

func TestTerminalStatus(t *testing.T) {
	code := 0
	tests := []struct {
		name string
		res  Result
		err  error
		want Status
	}{
		{name: "completed", res: Result{ExitCode: &code}, want: StatusCompleted},
		{name: "timed out", res: Result{TimedOut: true}, want: StatusTimedOut},
		{name: "failed", err: errors.New("boom"), want: StatusFailed},
		{name: "failed wins over timeout", res: Result{TimedOut: true}, err: errors.New("boom"), want: StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := terminalStatus(tt.res, tt.err); got != tt.want {
				t.Errorf("terminalStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}
