package rocforge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// fakeProbeTools swaps the command indirections for the duration of a test.
func fakeProbeTools(t *testing.T, paths map[string]string, outputs map[string]string) {
	t.Helper()
	origLookPath := lookPath
	origCommandOutput := commandOutput
	t.Cleanup(func() {
		lookPath = origLookPath
		commandOutput = origCommandOutput
	})

	lookPath = func(name string) (string, error) {
		if p, ok := paths[name]; ok {
			return p, nil
		}
		return "", fmt.Errorf("%s: not found", name)
	}
	commandOutput = func(ctx context.Context, name string, args ...string) (string, error) {
		if out, ok := outputs[filepath.Base(name)]; ok {
			return out, nil
		}
		return "", fmt.Errorf("%s: not found", name)
	}
}

// populateWorkspace creates the descriptor files that mark a source tree.
func populateWorkspace(t *testing.T, names ...string) string {
	t.Helper()
	ws := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(ws, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	origWorkspace := workspaceDir
	workspaceDir = ws
	t.Cleanup(func() { workspaceDir = origWorkspace })
	return ws
}

func testBuildConfig(t *testing.T, environ ...string) *BuildConfig {
	t.Helper()
	bc, err := NewBuildConfig(nil, environ)
	if err != nil {
		t.Fatal(err)
	}
	return bc
}

func TestProbeMissingWorkspace(t *testing.T) {
	populateWorkspace(t, "setup.py") // CMakeLists.txt and version.txt absent
	fakeProbeTools(t, nil, nil)

	pr, err := probeEnvironment(context.Background(), testBuildConfig(t))
	if !errors.Is(err, ErrMissingWorkspace) {
		t.Fatalf("err = %v, want ErrMissingWorkspace", err)
	}
	want := []string{"CMakeLists.txt", "version.txt"}
	if !reflect.DeepEqual(pr.MissingDescriptors, want) {
		t.Errorf("MissingDescriptors = %v, want %v", pr.MissingDescriptors, want)
	}
}

func TestProbeToolchainUnavailable(t *testing.T) {
	populateWorkspace(t, "setup.py", "CMakeLists.txt", "version.txt")
	fakeProbeTools(t, nil, nil) // no hipcc anywhere

	bc := testBuildConfig(t, "ROCM_PATH="+t.TempDir())
	_, err := probeEnvironment(context.Background(), bc)
	if !errors.Is(err, ErrToolchainUnavailable) {
		t.Fatalf("err = %v, want ErrToolchainUnavailable", err)
	}
}

func TestProbeFindsToolchainOnPath(t *testing.T) {
	populateWorkspace(t, "setup.py", "CMakeLists.txt", "version.txt")
	fakeProbeTools(t,
		map[string]string{"hipcc": "/usr/bin/hipcc"},
		map[string]string{
			"hipcc":   "HIP version: 6.1.40093\nclang details follow\n",
			"python3": "Python 3.12.4\n",
		})

	bc := testBuildConfig(t, "ROCM_PATH="+t.TempDir())
	pr, err := probeEnvironment(context.Background(), bc)
	if err != nil {
		t.Fatalf("probeEnvironment: %v", err)
	}
	if pr.ToolchainVersion != "HIP version: 6.1.40093" {
		t.Errorf("ToolchainVersion = %q", pr.ToolchainVersion)
	}
	if pr.NumCPU < 1 {
		t.Errorf("NumCPU = %d", pr.NumCPU)
	}
}

func TestProbeArchMismatchIsNotAnError(t *testing.T) {
	populateWorkspace(t, "setup.py", "CMakeLists.txt", "version.txt")
	fakeProbeTools(t,
		map[string]string{"hipcc": "/usr/bin/hipcc", "rocminfo": "/usr/bin/rocminfo"},
		map[string]string{
			"hipcc": "HIP version: 6.1.40093\n",
			"rocminfo": `Agent 1
  Name:                    gfx1030
  Name:                    amdgcn-amd-amdhsa--gfx1030
`,
		})

	pr, err := probeEnvironment(context.Background(), testBuildConfig(t, "ROCM_PATH="+t.TempDir()))
	if err != nil {
		t.Fatalf("architecture mismatch must not fail the probe: %v", err)
	}
	if pr.TargetArchFound {
		t.Error("TargetArchFound = true, gfx1100 is not in rocminfo output")
	}
	if len(pr.GPUArchs) == 0 || pr.GPUArchs[0] != "gfx1030" {
		t.Errorf("GPUArchs = %v, want gfx1030 detected", pr.GPUArchs)
	}
}

func TestProbeTargetArchFound(t *testing.T) {
	populateWorkspace(t, "setup.py", "CMakeLists.txt", "version.txt")
	fakeProbeTools(t,
		map[string]string{"hipcc": "/usr/bin/hipcc", "rocminfo": "/usr/bin/rocminfo"},
		map[string]string{
			"hipcc":    "HIP version: 6.1.40093\n",
			"rocminfo": "  Name:                    gfx1100\n",
		})

	pr, err := probeEnvironment(context.Background(), testBuildConfig(t, "ROCM_PATH="+t.TempDir()))
	if err != nil {
		t.Fatalf("probeEnvironment: %v", err)
	}
	if !pr.TargetArchFound {
		t.Error("TargetArchFound = false, want true")
	}
}

func TestProbeIsReadOnly(t *testing.T) {
	ws := populateWorkspace(t, "setup.py", "CMakeLists.txt", "version.txt")
	fakeProbeTools(t,
		map[string]string{"hipcc": "/usr/bin/hipcc"},
		map[string]string{"hipcc": "HIP version: 6.1.40093\n"})

	before, err := os.ReadDir(ws)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := probeEnvironment(context.Background(), testBuildConfig(t, "ROCM_PATH="+t.TempDir())); err != nil {
		t.Fatalf("probeEnvironment: %v", err)
	}
	after, err := os.ReadDir(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(before) != len(after) {
		t.Errorf("probe created or removed workspace entries: %d before, %d after", len(before), len(after))
	}
}

func TestSubmodulesPopulated(t *testing.T) {
	ws := t.TempDir()
	if submodulesPopulated(ws) {
		t.Error("no third_party dir should mean not populated")
	}

	sub := filepath.Join(ws, "third_party", "fmt")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if submodulesPopulated(ws) {
		t.Error("empty submodule dir should mean not populated")
	}

	if err := os.WriteFile(filepath.Join(sub, "CMakeLists.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !submodulesPopulated(ws) {
		t.Error("checked-out submodule should be detected")
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"HIP version: 6.1\nmore\n", "HIP version: 6.1"},
		{"single", "single"},
		{"  padded  \nrest", "padded"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstLine(tt.in); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
