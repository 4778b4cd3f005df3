package rocforge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

const checksumManifest = "BLAKE3SUMS"

// hasB3sum reports whether the system b3sum binary is available.
func hasB3sum() bool {
	_, err := exec.LookPath("b3sum")
	return err == nil
}

// ComputeChecksum returns the BLAKE3 hex digest of the file at path, using
// the system b3sum when present (it is SIMD-optimized and wheels run to a
// couple of GiB), falling back to the pure-Go implementation.
func ComputeChecksum(path string) (string, error) {
	if hasB3sum() {
		cmd := exec.Command("b3sum", "--no-names", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			if sum := strings.TrimSpace(out.String()); sum != "" {
				return sum, nil
			}
		}
		// fall through to internal hashing on any b3sum failure
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// writeChecksumManifest hashes every artifact in dir and writes the
// BLAKE3SUMS manifest next to them (b3sum-compatible format: "<hash>  <name>").
func writeChecksumManifest(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("cannot read artifact directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == checksumManifest {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return fmt.Errorf("no artifacts in %s", dir)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		sum, err := ComputeChecksum(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", name, err)
		}
		lines = append(lines, fmt.Sprintf("%s  %s", sum, name))
	}

	manifest := filepath.Join(dir, checksumManifest)
	if err := os.WriteFile(manifest, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", manifest, err)
	}
	return nil
}

// handleChecksumCommand refreshes the artifact checksum manifest.
func handleChecksumCommand() error {
	if err := writeChecksumManifest(distDir); err != nil {
		return err
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Wrote %s\n", filepath.Join(distDir, checksumManifest))
	return nil
}
