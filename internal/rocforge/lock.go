package rocforge

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// acquireBuildLock takes an exclusive advisory lock on the work directory.
// Concurrent invocations against the same workspace are unsupported (logs
// are single-writer), so the second invocation fails fast instead of
// silently interleaving output. The returned release func is safe to call
// on every exit path.
func acquireBuildLock() (func(), error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	lockPath := filepath.Join(workDir, "rocforge.lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another rocforge build is running (lock %s held)", lockPath)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
