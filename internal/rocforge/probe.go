package rocforge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Sentinel errors for the two fatal probe outcomes.
var (
	ErrMissingWorkspace     = errors.New("workspace build descriptors missing")
	ErrToolchainUnavailable = errors.New("ROCm toolchain unavailable")
)

// workspaceDescriptors are the files that mark a directory as a usable
// framework source tree. All of them must be present.
var workspaceDescriptors = []string{
	"setup.py",
	"CMakeLists.txt",
	"version.txt",
}

// minFreeBytes is the free-space floor below which the prober warns.
// A full build tree plus object files lands around 50 GiB.
const minFreeBytes = 50 << 30

// Indirections for the external probes so tests can run without a ROCm
// install on the host.
var (
	lookPath      = exec.LookPath
	commandOutput = func(ctx context.Context, name string, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		return string(out), err
	}
)

// ProbeResult is the read-only set of facts about the workspace and host,
// gathered once per run.
type ProbeResult struct {
	Workspace          string
	MissingDescriptors []string
	ToolchainVersion   string // first line of `hipcc --version`
	GPUArchs           []string
	TargetArchFound    bool
	PythonVersion      string
	CcacheAvailable    bool
	SubmodulesReady    bool
	NumCPU             int
	FreeBytes          uint64
}

// probeEnvironment inspects the workspace and host. It is read-only: no
// files are created or modified. The returned error is ErrMissingWorkspace
// or ErrToolchainUnavailable (wrapped) for the two fatal cases; an
// architecture mismatch is reported in the result but is never an error.
func probeEnvironment(ctx context.Context, bc *BuildConfig) (*ProbeResult, error) {
	pr := &ProbeResult{
		Workspace: workspaceDir,
		NumCPU:    runtime.NumCPU(),
	}

	// (a) workspace descriptors
	for _, name := range workspaceDescriptors {
		if _, err := os.Stat(filepath.Join(workspaceDir, name)); err != nil {
			pr.MissingDescriptors = append(pr.MissingDescriptors, name)
		}
	}
	if len(pr.MissingDescriptors) > 0 {
		return pr, fmt.Errorf("%w: %s (in %s)", ErrMissingWorkspace,
			strings.Join(pr.MissingDescriptors, ", "), workspaceDir)
	}

	// (b) vendor toolchain
	hipcc := filepath.Join(bc.Get("ROCM_PATH"), "bin", "hipcc")
	if _, err := os.Stat(hipcc); err != nil {
		// Fall back to PATH lookup before declaring the toolchain missing.
		p, lerr := lookPath("hipcc")
		if lerr != nil {
			return pr, fmt.Errorf("%w: hipcc not found under %s or in PATH",
				ErrToolchainUnavailable, bc.Get("ROCM_PATH"))
		}
		hipcc = p
	}
	out, err := commandOutput(ctx, hipcc, "--version")
	if err != nil {
		return pr, fmt.Errorf("%w: %s --version failed: %v", ErrToolchainUnavailable, hipcc, err)
	}
	pr.ToolchainVersion = firstLine(out)

	// (c) target architecture enumeration; mismatch is a warning, not an
	// error, so GPU-less CI hosts can still produce wheels.
	if agents, err := enumerateGPUArchs(ctx); err == nil {
		pr.GPUArchs = agents
		for _, a := range agents {
			if a == bc.TargetArch() {
				pr.TargetArchFound = true
				break
			}
		}
	}

	// Remaining facts are informational.
	if out, err := commandOutput(ctx, pythonInterpreter(), "--version"); err == nil {
		pr.PythonVersion = firstLine(out)
	}
	if _, err := lookPath("ccache"); err == nil {
		pr.CcacheAvailable = true
	}
	pr.SubmodulesReady = submodulesPopulated(workspaceDir)
	pr.FreeBytes = freeDiskBytes(workspaceDir)

	return pr, nil
}

// enumerateGPUArchs parses `rocminfo` output for gfx target tokens.
func enumerateGPUArchs(ctx context.Context) ([]string, error) {
	rocminfo, err := lookPath("rocminfo")
	if err != nil {
		return nil, err
	}
	out, err := commandOutput(ctx, rocminfo)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		// Agent name lines look like "  Name:                    gfx1100"
		fields := strings.Fields(line)
		for _, f := range fields {
			if strings.HasPrefix(f, "gfx") && len(f) > 3 {
				seen[f] = true
			}
		}
	}

	archs := make([]string, 0, len(seen))
	for a := range seen {
		archs = append(archs, a)
	}
	sort.Strings(archs)
	return archs, nil
}

// submodulesPopulated reports whether third_party/ contains checked-out
// submodules. An empty directory means `git submodule update --init` was
// never run and the configure stage is guaranteed to fail.
func submodulesPopulated(workspace string) bool {
	entries, err := os.ReadDir(filepath.Join(workspace, "third_party"))
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(workspace, "third_party", e.Name()))
		if err == nil && len(sub) > 0 {
			return true
		}
	}
	return false
}

// freeDiskBytes returns the available bytes on the filesystem holding path.
func freeDiskBytes(path string) uint64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0
	}
	return st.Bavail * uint64(st.Bsize)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
