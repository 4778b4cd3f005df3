package rocforge

import (
	"fmt"
	"strings"
)

// reportStage announces entry into a pipeline stage. Hooked into the state
// machine as the onEnter callback; pure presentation, no decision logic.
func reportStage(s Stage) {
	colArrow.Print("-> ")
	switch s {
	case StageProbing:
		colSuccess.Println("Probing workspace and toolchain")
	case StageConfiguring:
		colSuccess.Println("Configuring (CMake)")
	case StageCompiling:
		colSuccess.Println("Compiling (this can take 30-60 minutes)")
	case StagePackaging:
		colSuccess.Println("Packaging wheel")
	case StageInstalling:
		colSuccess.Println("Installing")
	case StageVerifying:
		colSuccess.Println("Verifying with GPU smoke test")
	default:
		colSuccess.Println(s.String())
	}
}

// reportOutcome renders the final single-line status with a pointer to the
// relevant log file, and returns the process exit code.
func reportOutcome(o Outcome) int {
	colArrow.Print("-> ")
	if o.Kind == OutcomeSuccess {
		colSuccess.Println("Build complete: Success")
		return 0
	}

	colError.Printf("Build failed: %s", o.Kind)
	if o.Err != nil {
		colError.Printf(" (%v)", o.Err)
	}
	fmt.Println()
	if o.LogPath != "" {
		colNote.Printf("See %s for details\n", o.LogPath)
	}
	return o.Kind.ExitCode()
}

// printProbeReport renders a ProbeResult for the operator.
func printProbeReport(pr *ProbeResult, bc *BuildConfig) {
	colArrow.Print("-> ")
	colSuccess.Println("Environment probe")
	fmt.Printf("  workspace:   %s\n", pr.Workspace)
	if len(pr.MissingDescriptors) > 0 {
		colError.Printf("  missing:     %s\n", strings.Join(pr.MissingDescriptors, ", "))
		return
	}
	fmt.Printf("  toolchain:   %s\n", pr.ToolchainVersion)
	fmt.Printf("  python:      %s\n", pr.PythonVersion)
	fmt.Printf("  cores:       %d\n", pr.NumCPU)
	fmt.Printf("  disk free:   %.1f GiB\n", float64(pr.FreeBytes)/(1<<30))

	if len(pr.GPUArchs) > 0 {
		fmt.Printf("  gpu targets: %s\n", strings.Join(pr.GPUArchs, " "))
	} else {
		cPrintln(colWarn, "  gpu targets: none detected (rocminfo unavailable)")
	}
	if pr.TargetArchFound {
		fmt.Printf("  target:      %s (present)\n", bc.TargetArch())
	} else {
		cPrintf(colWarn, "  target:      %s not reported by rocminfo; build continues, smoke test will decide\n", bc.TargetArch())
	}

	if pr.CcacheAvailable {
		fmt.Println("  ccache:      available")
	}
	if !pr.SubmodulesReady {
		cPrintln(colWarn, "  submodules:  third_party/ looks empty; run 'git submodule update --init --recursive'")
	}
	if pr.FreeBytes > 0 && pr.FreeBytes < minFreeBytes {
		cPrintf(colWarn, "  disk:        less than %d GiB free; a full build may not fit\n", minFreeBytes>>30)
	}
}

// printBuildConfig renders the effective flag set with per-key provenance.
func printBuildConfig(bc *BuildConfig) {
	colArrow.Print("-> ")
	colSuccess.Println("Effective build configuration")
	for _, k := range bc.Keys() {
		fmt.Printf("  %-22s = %-18s (%s)\n", k, bc.Get(k), bc.Source(k))
	}
}
