package rocforge

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rocforge.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigParsesKeyValues(t *testing.T) {
	path := writeConf(t, `
# build host settings
ROCFORGE_WORK_DIR=/tmp/rocforge-test
MAX_JOBS = 8
PYTORCH_ROCM_ARCH="gfx1100"
CMAKE_BUILD_TYPE='Release'

malformed line without equals
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	tests := []struct {
		key, want string
	}{
		{"ROCFORGE_WORK_DIR", "/tmp/rocforge-test"},
		{"MAX_JOBS", "8"},
		{"PYTORCH_ROCM_ARCH", "gfx1100"},
		{"CMAKE_BUILD_TYPE", "Release"},
	}
	for _, tt := range tests {
		if got := cfg.Values[tt.key]; got != tt.want {
			t.Errorf("Values[%q] = %q, want %q", tt.key, got, tt.want)
		}
	}
	if _, ok := cfg.Values["malformed line without equals"]; ok {
		t.Error("malformed line should be skipped")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("missing conf file should not be an error, got %v", err)
	}
	if cfg == nil || cfg.Values == nil {
		t.Fatal("expected usable empty config")
	}
}

func TestMergeEnvOverrides(t *testing.T) {
	t.Setenv("ROCFORGE_WORK_DIR", "/tmp/from-env")
	t.Setenv("MAX_JOBS", "4")

	cfg := &Config{Values: map[string]string{
		"ROCFORGE_WORK_DIR": "/tmp/from-conf",
		"MAX_JOBS":          "16",
		"USE_MKLDNN":        "0",
	}}
	mergeEnvOverrides(cfg)

	if got := cfg.Values["ROCFORGE_WORK_DIR"]; got != "/tmp/from-env" {
		t.Errorf("ROCFORGE_WORK_DIR = %q, want env value", got)
	}
	if got := cfg.Values["MAX_JOBS"]; got != "4" {
		t.Errorf("MAX_JOBS = %q, want env value", got)
	}
	// Keys untouched by the environment keep their conf values.
	if got := cfg.Values["USE_MKLDNN"]; got != "0" {
		t.Errorf("USE_MKLDNN = %q, want conf value", got)
	}
}

func TestInitConfigDefaults(t *testing.T) {
	ws := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"ROCFORGE_WORKSPACE": ws,
	}}
	initConfig(cfg)

	if workspaceDir != ws {
		t.Errorf("workspaceDir = %q, want %q", workspaceDir, ws)
	}
	if workDir != "/var/tmp/rocforge" {
		t.Errorf("workDir = %q, want default", workDir)
	}
	if logDir != filepath.Join(workDir, "log") {
		t.Errorf("logDir = %q", logDir)
	}
	if distDir != filepath.Join(ws, "dist") {
		t.Errorf("distDir = %q", distDir)
	}
	if buildDir != filepath.Join(ws, "build") {
		t.Errorf("buildDir = %q", buildDir)
	}
	if pythonInterpreter() != "python3" {
		t.Errorf("pythonInterpreter = %q, want python3", pythonInterpreter())
	}
}

func TestInitConfigOverrides(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"ROCFORGE_WORKSPACE": "/src/pytorch",
		"ROCFORGE_WORK_DIR":  "/scratch/rocforge",
		"ROCFORGE_PYTHON":    "/opt/venv/bin/python",
		"ROCFORGE_DEBUG":     "1",
	}}
	initConfig(cfg)
	defer func() {
		Debug = false
	}()

	if workDir != "/scratch/rocforge" {
		t.Errorf("workDir = %q", workDir)
	}
	if pythonInterpreter() != "/opt/venv/bin/python" {
		t.Errorf("pythonInterpreter = %q", pythonInterpreter())
	}
	if !Debug {
		t.Error("ROCFORGE_DEBUG=1 should enable Debug")
	}
}
