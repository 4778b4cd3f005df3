package rocforge

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/term"
)

// Stage log file names under logDir. Append-only plaintext; a human (or the
// monitor TUI) tails these during the long compile.
const (
	configureLog = "configure.log"
	compileLog   = "compile.log"
	packageLog   = "package.log"
	installLog   = "install.log"
	verifyLog    = "verify.log"
)

// buildOptions encapsulates per-invocation knobs for the build pipeline.
type buildOptions struct {
	Quiet         bool // suppress per-second progress lines
	SkipClean     bool // keep the existing build directory (incremental rebuild)
	SkipVerify    bool // stop after install, no smoke test
	SystemInstall bool // install the wheel into the system interpreter (needs root)
}

// cleanBuildDir removes the stale build output directory. Idempotent: a
// missing directory is success, so the operator's manual clean-and-retry
// path can always run it again.
func cleanBuildDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clean build directory %s: %w", dir, err)
	}
	return nil
}

// setTerminalTitle updates the terminal title via the OSC 0 escape.
func setTerminalTitle(title string) {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("\033]0;%s\a", title)
	}
}

// runStage executes one external tool invocation, streaming its combined
// output to logPath while it runs. The log write is concurrent with
// execution, never buffered until completion, so `tail -f` and `rocforge
// monitor` show live progress during a 30-60 minute compile.
func runStage(execCtx *Executor, name string, argv []string, dir string, env []string, logPath string, quiet bool) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	fmt.Fprintf(logFile, "=== rocforge %s: %v (started %s)\n", name, argv, time.Now().Format(time.RFC3339))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env

	var out io.Writer = logFile
	if Verbose || Debug {
		out = io.MultiWriter(os.Stdout, logFile)
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Stdin = nil

	startTime := time.Now()
	doneCh := make(chan struct{})
	var tickWg sync.WaitGroup

	if !Verbose && !quiet {
		tickWg.Add(1)
		go func() {
			defer tickWg.Done()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					elapsed := time.Since(startTime).Truncate(time.Second)
					setTerminalTitle(fmt.Sprintf("rocforge %s elapsed: %s", name, elapsed))
					colArrow.Print("-> ")
					colSuccess.Printf("%s elapsed: %s\r", name, elapsed)
				case <-doneCh:
					fmt.Print("\r")
					return
				case <-execCtx.Context.Done():
					return
				}
			}
		}()
	}

	runErr := execCtx.Run(cmd)

	close(doneCh)
	tickWg.Wait()

	fmt.Fprintf(logFile, "=== rocforge %s: finished in %s (err=%v)\n",
		name, time.Since(startTime).Truncate(time.Second), runErr)

	if runErr != nil {
		return fmt.Errorf("%s failed: %w", name, runErr)
	}
	return nil
}

// newestWheel returns the most recently modified wheel in distDir.
func newestWheel(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.whl"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no wheel found in %s", dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		ai, err1 := os.Stat(matches[i])
		aj, err2 := os.Stat(matches[j])
		if err1 != nil || err2 != nil {
			return matches[i] > matches[j]
		}
		return ai.ModTime().After(aj.ModTime())
	})
	return matches[0], nil
}

// newBuildPipeline wires the real external tool invocations into the state
// machine: configure (CMake via setup.py), compile, package (wheel) and
// install. The probe stage is expected to have run already; callers add
// verification separately when opts.SkipVerify is false.
func newBuildPipeline(bc *BuildConfig, opts buildOptions, onEnter func(Stage)) *Pipeline {
	python := pythonInterpreter()
	env := bc.Environ(os.Environ())
	p := NewPipeline(onEnter)

	p.AddStage(StageConfiguring, OutcomeConfigurationFailure, func(ctx context.Context) (string, error) {
		if !opts.SkipClean {
			if err := cleanBuildDir(buildDir); err != nil {
				return "", err
			}
		}
		logPath := filepath.Join(logDir, configureLog)
		argv := []string{python, "setup.py", "build", "--cmake-only"}
		return logPath, runStage(UserExec, "configure", argv, workspaceDir, env, logPath, opts.Quiet)
	})

	p.AddStage(StageCompiling, OutcomeCompileFailure, func(ctx context.Context) (string, error) {
		logPath := filepath.Join(logDir, compileLog)
		argv := []string{python, "setup.py", "build"}
		return logPath, runStage(UserExec, "compile", argv, workspaceDir, env, logPath, opts.Quiet)
	})

	p.AddStage(StagePackaging, OutcomePackagingFailure, func(ctx context.Context) (string, error) {
		logPath := filepath.Join(logDir, packageLog)
		argv := []string{python, "setup.py", "bdist_wheel"}
		if err := runStage(UserExec, "package", argv, workspaceDir, env, logPath, opts.Quiet); err != nil {
			return logPath, err
		}
		// Refresh the checksum manifest so the wheel is ready for upload.
		if err := writeChecksumManifest(distDir); err != nil {
			debugf("checksum manifest update failed: %v\n", err)
		}
		return logPath, nil
	})

	p.AddStage(StageInstalling, OutcomeInstallFailure, func(ctx context.Context) (string, error) {
		logPath := filepath.Join(logDir, installLog)
		wheel, err := newestWheel(distDir)
		if err != nil {
			return logPath, err
		}

		// Installs must not be half-cancelled; a torn site-packages tree is
		// worse than an extra minute of waiting.
		isCriticalAtomic.Store(1)
		defer isCriticalAtomic.Store(0)

		installExec := UserExec
		argv := []string{python, "-m", "pip", "install", "--force-reinstall", "--no-deps"}
		if opts.SystemInstall {
			installExec = RootExec
		} else {
			argv = append(argv, "--user")
		}
		argv = append(argv, wheel)
		return logPath, runStage(installExec, "install", argv, workspaceDir, env, logPath, opts.Quiet)
	})

	return p
}
