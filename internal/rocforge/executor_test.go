package rocforge

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Executor{Context: ctx}
}

func TestExecutorRunCapturesOutput(t *testing.T) {
	e := newTestExecutor(t)

	var out bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", "echo hello from child")
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := e.Run(cmd); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "hello from child") {
		t.Errorf("output = %q", out.String())
	}
}

func TestExecutorRunPropagatesExitError(t *testing.T) {
	e := newTestExecutor(t)

	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	cmd.Stdout = new(bytes.Buffer)
	cmd.Stderr = new(bytes.Buffer)

	if err := e.Run(cmd); err == nil {
		t.Fatal("non-zero exit must be an error")
	}
}

func TestExecutorRunHonorsEnv(t *testing.T) {
	e := newTestExecutor(t)

	var out bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", "echo $USE_ROCM")
	cmd.Env = []string{"PATH=/usr/bin:/bin", "USE_ROCM=1"}
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := e.Run(cmd); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "1" {
		t.Errorf("child env not applied, got %q", out.String())
	}
}

func TestExecutorRunKillsProcessGroupOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{Context: ctx}

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	// The shell spawns a child sleep; both must die with the group.
	cmd := exec.Command("/bin/sh", "-c", "sleep 30 & wait")
	cmd.Stdout = new(bytes.Buffer)
	cmd.Stderr = new(bytes.Buffer)

	start := time.Now()
	err := e.Run(cmd)
	if err == nil {
		t.Fatal("cancelled run must return an error")
	}
	if !strings.Contains(err.Error(), "command aborted") {
		t.Errorf("err = %v, want command aborted", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process group was not killed promptly")
	}
}
