package rocforge

import (
	"errors"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

func TestNewBuildConfigDefaults(t *testing.T) {
	bc, err := NewBuildConfig(nil, nil)
	if err != nil {
		t.Fatalf("NewBuildConfig: %v", err)
	}

	tests := []struct {
		key, want string
	}{
		{"USE_ROCM", "1"},
		{"USE_CUDA", "0"},
		{"PYTORCH_ROCM_ARCH", "gfx1100"},
		{"CMAKE_BUILD_TYPE", "RelWithDebInfo"},
		{"ROCM_PATH", "/opt/rocm"},
		{"BUILD_TEST", "0"},
	}
	for _, tt := range tests {
		if got := bc.Get(tt.key); got != tt.want {
			t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.want)
		}
		if src := bc.Source(tt.key); src != "default" {
			t.Errorf("Source(%q) = %q, want default", tt.key, src)
		}
	}

	if bc.Jobs() != runtime.NumCPU() {
		t.Errorf("Jobs() = %d, want NumCPU %d", bc.Jobs(), runtime.NumCPU())
	}
	if bc.TargetArch() != "gfx1100" {
		t.Errorf("TargetArch() = %q", bc.TargetArch())
	}
}

func TestNewBuildConfigPrecedence(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"MAX_JOBS":          "12",
		"CMAKE_BUILD_TYPE":  "Release",
		"PYTORCH_ROCM_ARCH": "gfx1030",
	}}
	environ := []string{"PYTORCH_ROCM_ARCH=gfx1100", "PATH=/usr/bin"}

	bc, err := NewBuildConfig(cfg, environ)
	if err != nil {
		t.Fatalf("NewBuildConfig: %v", err)
	}

	// env beats conf
	if got := bc.Get("PYTORCH_ROCM_ARCH"); got != "gfx1100" {
		t.Errorf("PYTORCH_ROCM_ARCH = %q, want env value", got)
	}
	if src := bc.Source("PYTORCH_ROCM_ARCH"); src != "env" {
		t.Errorf("Source = %q, want env", src)
	}
	// conf beats default
	if got := bc.Get("CMAKE_BUILD_TYPE"); got != "Release" {
		t.Errorf("CMAKE_BUILD_TYPE = %q, want conf value", got)
	}
	if src := bc.Source("CMAKE_BUILD_TYPE"); src != "conf" {
		t.Errorf("Source = %q, want conf", src)
	}
	if bc.Jobs() != 12 {
		t.Errorf("Jobs() = %d, want 12", bc.Jobs())
	}
	// untouched keys stay default
	if src := bc.Source("USE_ROCM"); src != "default" {
		t.Errorf("Source(USE_ROCM) = %q, want default", src)
	}
}

func TestNewBuildConfigBackendConflict(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
		wantErr bool
	}{
		{"both enabled", []string{"USE_ROCM=1", "USE_CUDA=1"}, true},
		{"both enabled spellings", []string{"USE_ROCM=on", "USE_CUDA=true"}, true},
		{"cuda only", []string{"USE_ROCM=0", "USE_CUDA=1"}, false},
		{"rocm only", []string{"USE_CUDA=0"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuildConfig(nil, tt.environ)
			if tt.wantErr {
				if !errors.Is(err, ErrBackendConflict) {
					t.Fatalf("err = %v, want ErrBackendConflict", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestIsEnabled(t *testing.T) {
	for _, v := range []string{"1", "on", "ON", "true", "yes", "y", " 1 "} {
		if !isEnabled(v) {
			t.Errorf("isEnabled(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"0", "off", "false", "no", "", "2"} {
		if isEnabled(v) {
			t.Errorf("isEnabled(%q) = true, want false", v)
		}
	}
}

func TestJobsFallsBackOnGarbage(t *testing.T) {
	bc, err := NewBuildConfig(nil, []string{"MAX_JOBS=banana"})
	if err != nil {
		t.Fatalf("NewBuildConfig: %v", err)
	}
	if bc.Jobs() != runtime.NumCPU() {
		t.Errorf("Jobs() = %d, want NumCPU fallback", bc.Jobs())
	}
}

func TestEnvironAppendsFlagsLast(t *testing.T) {
	bc, err := NewBuildConfig(nil, nil)
	if err != nil {
		t.Fatalf("NewBuildConfig: %v", err)
	}

	base := []string{"PATH=/usr/bin", "USE_ROCM=stale"}
	env := bc.Environ(base)

	if len(env) != len(base)+len(bc.Keys()) {
		t.Fatalf("Environ length = %d, want %d", len(env), len(base)+len(bc.Keys()))
	}
	if env[0] != "PATH=/usr/bin" {
		t.Errorf("base entries must be preserved in order, got %q", env[0])
	}
	// The flag value appears after the stale base entry, so it wins.
	lastRocm := -1
	for i, e := range env {
		if strings.HasPrefix(e, "USE_ROCM=") {
			lastRocm = i
		}
	}
	if lastRocm < len(base) || env[lastRocm] != "USE_ROCM=1" {
		t.Errorf("flag USE_ROCM=1 must appear after base entries, got index %d value %q", lastRocm, env[lastRocm])
	}

	expectMaxJobs := "MAX_JOBS=" + strconv.Itoa(runtime.NumCPU())
	found := false
	for _, e := range env {
		if e == expectMaxJobs {
			found = true
		}
	}
	if !found {
		t.Errorf("Environ missing %q", expectMaxJobs)
	}
}
