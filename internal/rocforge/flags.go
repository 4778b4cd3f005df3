package rocforge

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

// ErrBackendConflict is returned when a configuration enables both the ROCm
// and CUDA backends. The underlying CMake would only discover the conflict
// deep into the configure stage, so we reject it up front.
var ErrBackendConflict = errors.New("USE_ROCM and USE_CUDA are mutually exclusive")

// buildDefaults is the flag table the exporter starts from. Any key may be
// overridden in rocforge.conf or the operator environment; the environment
// wins over the conf file which wins over this table.
var buildDefaults = map[string]string{
	"USE_ROCM":             "1",
	"USE_CUDA":             "0",
	"PYTORCH_ROCM_ARCH":    "gfx1100",
	"CMAKE_BUILD_TYPE":     "RelWithDebInfo",
	"CMAKE_INSTALL_PREFIX": "/usr/local",
	"USE_DISTRIBUTED":      "1",
	"USE_MKLDNN":           "1",
	"USE_FLASH_ATTENTION":  "1",
	"USE_FBGEMM":           "1",
	"BUILD_TEST":           "0",
	"ROCM_PATH":            "/opt/rocm",
	// MAX_JOBS defaults to the host core count; filled in by NewBuildConfig.
}

// BuildConfig is the immutable set of build flags for one invocation.
// Values are fixed at construction; accessors return copies.
type BuildConfig struct {
	values map[string]string
	source map[string]string // "default" | "conf" | "env", per key
}

// NewBuildConfig merges the defaults table, the conf-file values and the
// operator environment into a BuildConfig. environ is os.Environ() in
// production; tests pass a fixture.
func NewBuildConfig(cfg *Config, environ []string) (*BuildConfig, error) {
	bc := &BuildConfig{
		values: make(map[string]string, len(buildDefaults)+1),
		source: make(map[string]string, len(buildDefaults)+1),
	}

	for k, v := range buildDefaults {
		bc.values[k] = v
		bc.source[k] = "default"
	}
	bc.values["MAX_JOBS"] = strconv.Itoa(runtime.NumCPU())
	bc.source["MAX_JOBS"] = "default"

	if cfg != nil {
		for _, k := range buildEnvKeys {
			if v, ok := cfg.Values[k]; ok {
				bc.values[k] = v
				bc.source[k] = "conf"
			}
		}
	}

	envMap := make(map[string]string, len(environ))
	for _, e := range environ {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	for _, k := range buildEnvKeys {
		if v, ok := envMap[k]; ok {
			bc.values[k] = v
			bc.source[k] = "env"
		}
	}

	if isEnabled(bc.values["USE_ROCM"]) && isEnabled(bc.values["USE_CUDA"]) {
		return nil, ErrBackendConflict
	}

	return bc, nil
}

// isEnabled treats 1/on/true/yes as enabled, matching setup.py's env parsing.
func isEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "on", "true", "yes", "y":
		return true
	}
	return false
}

// Get returns the value for key, or "" when the key is unknown.
func (b *BuildConfig) Get(key string) string {
	return b.values[key]
}

// Bool reports whether the flag named key is enabled.
func (b *BuildConfig) Bool(key string) bool {
	return isEnabled(b.values[key])
}

// Source returns where the value for key came from: default, conf or env.
func (b *BuildConfig) Source(key string) string {
	return b.source[key]
}

// Jobs returns the parallelism level the external build tool should use.
func (b *BuildConfig) Jobs() int {
	n, err := strconv.Atoi(b.values["MAX_JOBS"])
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// TargetArch returns the GPU instruction-set target (e.g. gfx1100).
func (b *BuildConfig) TargetArch() string {
	return b.values["PYTORCH_ROCM_ARCH"]
}

// Keys returns the flag names in stable order.
func (b *BuildConfig) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Environ renders the configuration as KEY=VALUE pairs appended to base.
// base is typically os.Environ(); the flag values are appended last so they
// win over anything already present.
func (b *BuildConfig) Environ(base []string) []string {
	env := make([]string, len(base), len(base)+len(b.values))
	copy(env, base)
	for _, k := range b.Keys() {
		env = append(env, fmt.Sprintf("%s=%s", k, b.values[k]))
	}
	return env
}
