package rocforge

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeSmokeScript materializes the embedded smoke-test program into dir and
// returns its path. The script ships inside the binary so the verifier works
// from any directory, including after the source tree has been cleaned.
func writeSmokeScript(dir string) (string, error) {
	data, err := embeddedAssets.ReadFile("assets/smoke_test.py")
	if err != nil {
		return "", fmt.Errorf("embedded smoke test missing: %w", err)
	}
	path := filepath.Join(dir, "rocforge_smoke_test.py")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write smoke test: %w", err)
	}
	return path, nil
}
