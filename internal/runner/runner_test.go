package runner

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecCapturesOutput(t *testing.T) {
	requireSh(t)

	dir := t.TempDir()
	res, err := NewExec(nil).Run(context.Background(), Command{
		Args: []string{"sh", "-c", "pwd; echo oops >&2"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if !strings.Contains(string(res.Stdout), dir) {
		t.Errorf("expected stdout to contain %q, got %q", dir, res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "oops" {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	requireSh(t)

	res, err := NewExec(nil).Run(context.Background(), Command{
		Args: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestExecEnv(t *testing.T) {
	requireSh(t)

	res, err := NewExec(nil).Run(context.Background(), Command{
		Args: []string{"sh", "-c", "echo $RUNNER_TEST"},
		Env:  []string{"RUNNER_TEST=hello"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "hello" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
}

func TestExecMissingBinary(t *testing.T) {
	_, err := NewExec(nil).Run(context.Background(), Command{
		Args: []string{"definitely-not-a-real-binary-xyz"},
	})
	if err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestExecEmptyCommand(t *testing.T) {
	if _, err := NewExec(nil).Run(context.Background(), Command{}); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestFunc(t *testing.T) {
	var got Command
	r := Func(func(ctx context.Context, cmd Command) (*Result, error) {
		got = cmd
		return &Result{ExitCode: 7}, nil
	})

	res, err := r.Run(context.Background(), Command{Args: []string{"conda", "index"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 || got.String() != "conda index" {
		t.Errorf("unexpected result %+v for %q", res, got)
	}
}
