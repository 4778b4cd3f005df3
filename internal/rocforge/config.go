package rocforge

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// buildEnvKeys are the build variables an operator may set directly in the
// environment (without the ROCFORGE_ prefix). They are merged into the
// config the same way ROCFORGE_* keys are, and the exporter gives them
// override priority over rocforge.conf.
var buildEnvKeys = []string{
	"USE_ROCM",
	"USE_CUDA",
	"PYTORCH_ROCM_ARCH",
	"MAX_JOBS",
	"CMAKE_BUILD_TYPE",
	"CMAKE_INSTALL_PREFIX",
	"USE_DISTRIBUTED",
	"USE_MKLDNN",
	"USE_FLASH_ATTENTION",
	"USE_FBGEMM",
	"BUILD_TEST",
	"ROCM_PATH",
}

// Load /etc/rocforge.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge ROCFORGE_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge ROCFORGE_* env overrides plus the recognized bare build variables
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "ROCFORGE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}

	// Bare build variables (USE_ROCM, MAX_JOBS, ...) are imported as-is so
	// operators can drive rocforge the way they would drive setup.py.
	for _, key := range buildEnvKeys {
		if v, ok := os.LookupEnv(key); ok {
			cfg.Values[key] = v
		}
	}
}

func initConfig(cfg *Config) {
	workspaceDir = cfg.Values["ROCFORGE_WORKSPACE"]
	if workspaceDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workspaceDir = cwd
		} else {
			workspaceDir = "."
		}
	}

	workDir = cfg.Values["ROCFORGE_WORK_DIR"]
	if workDir == "" {
		// /var/tmp survives reboots and is rarely a size-capped tmpfs,
		// which matters for a build tree this large.
		workDir = "/var/tmp/rocforge"
	}

	logDir = filepath.Join(workDir, "log")
	distDir = filepath.Join(workspaceDir, "dist")
	buildDir = filepath.Join(workspaceDir, "build")

	pythonBin = cfg.Values["ROCFORGE_PYTHON"]
	if pythonBin == "" {
		pythonBin = "python3"
	}

	Debug = false
	if cfg.Values["ROCFORGE_DEBUG"] == "1" {
		Debug = true
	}
}

// pythonInterpreter returns the interpreter used for the configure, compile
// and smoke-test invocations.
func pythonInterpreter() string {
	if pythonBin == "" {
		return "python3"
	}
	return pythonBin
}
