package rocforge

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: rocforge <command> [arguments]")
	colSuccess.Println("Run 'rocforge <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "[options]", "Run the full pipeline: probe, configure, compile, package, install, verify"},
		{"probe, doctor", "", "Inspect workspace and toolchain, report problems, change nothing"},
		{"config", "", "Show the effective build configuration with per-key provenance"},
		{"clean", "", "Remove the build output directory (idempotent)"},
		{"verify", "", "Run the GPU smoke test against the installed artifact"},
		{"log", "[stage]", "Show a stage log through $PAGER (lists logs with no argument)"},
		{"monitor", "", "Live TUI view of the running build's stage logs"},
		{"archive", "[-format zst|gz]", "Bundle the run's logs into a compressed tarball"},
		{"upload", "[file...]", "Push the newest wheel and checksum manifest to the mirror"},
		{"checksum, c", "", "Refresh the BLAKE3 checksum manifest for built artifacts"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

func printVersion() {
	fmt.Printf("rocforge %s (%s, built %s)\n", version, arch, buildDate)
}

// probeOutcome maps a fatal probe error onto its terminal outcome.
func probeOutcome(err error) Outcome {
	kind := OutcomeToolchainUnavailable
	if errors.Is(err, ErrMissingWorkspace) {
		kind = OutcomeMissingWorkspace
	}
	return Outcome{Kind: kind, Err: err}
}

// handleBuildCommand runs the whole pipeline and returns the process exit code.
func handleBuildCommand(ctx context.Context, args []string, cfg *Config) int {
	buildCmd := flag.NewFlagSet("build", flag.ExitOnError)
	verbose := buildCmd.Bool("v", false, "Stream build tool output to the terminal as well as the log")
	idle := buildCmd.Bool("i", false, "Run the external build tool at idle priority (nice -n 19)")
	quiet := buildCmd.Bool("q", false, "Suppress the per-second elapsed time line")
	keep := buildCmd.Bool("keep", false, "Keep the existing build directory (incremental rebuild)")
	noVerify := buildCmd.Bool("no-verify", false, "Stop after install, skip the GPU smoke test")
	system := buildCmd.Bool("system", false, "Install the wheel into the system interpreter (uses sudo)")
	if err := buildCmd.Parse(args); err != nil {
		return 1
	}

	if *verbose {
		Verbose = true
	}
	UserExec.ApplyIdlePriority = *idle || buildPriority == "idle"
	opts := buildOptions{
		Quiet:         *quiet,
		SkipClean:     *keep,
		SkipVerify:    *noVerify,
		SystemInstall: *system,
	}

	bc, err := NewBuildConfig(cfg, os.Environ())
	if err != nil {
		colArrow.Print("-> ")
		colError.Printf("Invalid build configuration: %v\n", err)
		return 1
	}

	reportStage(StageProbing)
	pr, err := probeEnvironment(ctx, bc)
	if err != nil {
		return reportOutcome(probeOutcome(err))
	}
	printProbeReport(pr, bc)
	printBuildConfig(bc)

	release, err := acquireBuildLock()
	if err != nil {
		colArrow.Print("-> ")
		colError.Println(err.Error())
		return 1
	}
	defer release()

	p := newBuildPipeline(bc, opts, reportStage)
	if !opts.SkipVerify {
		addVerifyStage(p, opts)
	}

	outcome := p.Run(ctx)
	setTerminalTitle("rocforge: " + outcome.Kind.String())
	return reportOutcome(outcome)
}

// handleProbeCommand is the read-only doctor: probe, print, exit.
func handleProbeCommand(ctx context.Context, cfg *Config) int {
	bc, err := NewBuildConfig(cfg, os.Environ())
	if err != nil {
		colArrow.Print("-> ")
		colError.Printf("Invalid build configuration: %v\n", err)
		return 1
	}
	pr, err := probeEnvironment(ctx, bc)
	if err != nil {
		printProbeReport(pr, bc)
		return reportOutcome(probeOutcome(err))
	}
	printProbeReport(pr, bc)
	return 0
}

func handleConfigCommand(cfg *Config) int {
	bc, err := NewBuildConfig(cfg, os.Environ())
	if err != nil {
		colArrow.Print("-> ")
		colError.Printf("Invalid build configuration: %v\n", err)
		return 1
	}
	printBuildConfig(bc)
	return 0
}

func handleCleanCommand() int {
	if err := cleanBuildDir(buildDir); err != nil {
		colArrow.Print("-> ")
		colError.Printf("Clean failed: %v\n", err)
		return 1
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Removed %s\n", buildDir)
	return 0
}

// Main is the CLI entrypoint for the rocforge binary.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				if isCriticalAtomic.Load() == 1 {
					// Block the first signal during the install; force exit on
					// the second.
					colArrow.Print("\n-> ")
					colError.Printf("Install in progress. Press Ctrl+C AGAIN to force exit NOW.\n")

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						colError.Printf("Forced immediate exit.")
						os.Exit(130)
					case <-time.After(5 * time.Second):
						continue
					case <-ctx.Done():
						return
					}
				} else {
					colArrow.Print("\n-> ")
					color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
					cancel()

					// Give the build tool a moment to die and flush the log.
					time.Sleep(100 * time.Millisecond)

					select {
					case <-sigs:
						colArrow.Print("\n-> ")
						color.Danger.Printf("Second interrupt received. Forcing immediate exit.")
						os.Exit(130)
					case <-time.After(2 * time.Second):
						colArrow.Print("\n-> ")
						color.Danger.Printf("Graceful shutdown timeout. Exiting.")
						os.Exit(1)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if p := os.Getenv("ROCFORGE_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}
	initConfig(cfg)
	buildPriority = cfg.Values["ROCFORGE_BUILD_PRIORITY"]

	UserExec = &Executor{
		Context:         ctx,
		ShouldRunAsRoot: false,
	}
	RootExec = &Executor{
		Context:         ctx,
		ShouldRunAsRoot: true,
	}

	var exitCode int

	switch os.Args[1] {
	case "build", "b":
		exitCode = handleBuildCommand(ctx, os.Args[2:], cfg)

	case "probe", "doctor":
		exitCode = handleProbeCommand(ctx, cfg)

	case "config":
		exitCode = handleConfigCommand(cfg)

	case "clean":
		exitCode = handleCleanCommand()

	case "verify":
		if err := handleVerifyCommand(); err != nil {
			exitCode = 1
		}

	case "log":
		if err := handleLogCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = 1
		}

	case "monitor":
		exitCode = runMonitor()

	case "archive":
		if err := handleArchiveCommand(os.Args[2:], cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = 1
		}

	case "upload":
		if err := handleUploadCommand(ctx, os.Args[2:], cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = 1
		}

	case "checksum", "c":
		if err := handleChecksumCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exitCode = 1
		}

	case "version", "--version":
		printVersion()

	case "help", "-h", "--help":
		printHelp()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printHelp()
		exitCode = 1
	}

	// Stop the signal goroutine before exiting.
	cancel()
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
