package rocforge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// runSmokeTest executes the embedded verification program against the
// installed artifact: import the module, confirm the accelerator backend
// reports available, run one trivial GPU computation. Output streams to the
// verify log like every other stage. A non-zero exit is a verification
// failure; earlier stage logs and artifacts are left untouched.
func runSmokeTest(execCtx *Executor, quiet bool) (string, error) {
	logPath := filepath.Join(logDir, verifyLog)

	tmp, err := os.MkdirTemp("", "rocforge-verify-")
	if err != nil {
		return logPath, fmt.Errorf("failed to create verify scratch dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	script, err := writeSmokeScript(tmp)
	if err != nil {
		return logPath, err
	}

	argv := []string{pythonInterpreter(), script}
	// Run from the scratch dir: importing torch from inside the source tree
	// picks up the unbuilt source package and always fails.
	if err := runStage(execCtx, "verify", argv, tmp, os.Environ(), logPath, quiet); err != nil {
		return logPath, fmt.Errorf("smoke test failed: %w", err)
	}
	return logPath, nil
}

// addVerifyStage appends the verification stage to a build pipeline.
func addVerifyStage(p *Pipeline, opts buildOptions) {
	p.AddStage(StageVerifying, OutcomeVerificationFailure, func(ctx context.Context) (string, error) {
		return runSmokeTest(UserExec, opts.Quiet)
	})
}

// handleVerifyCommand runs the smoke test standalone against whatever
// artifact is currently installed.
func handleVerifyCommand() error {
	logPath, err := runSmokeTest(UserExec, false)
	if err != nil {
		colArrow.Print("-> ")
		colError.Printf("Verification failed: %v (see %s)\n", err, logPath)
		return err
	}
	colArrow.Print("-> ")
	colSuccess.Println("Smoke test passed: accelerator backend available.")
	return nil
}
