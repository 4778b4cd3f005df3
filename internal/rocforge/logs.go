package rocforge

import (
	"archive/tar"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// stageLogNames in display order, for `rocforge log` with no argument.
var stageLogNames = []string{configureLog, compileLog, packageLog, installLog, verifyLog}

type wrappedReadCloser struct {
	io.Reader
	underlying io.Closer
	closer     io.Closer // optional decompressor closer
}

func (w *wrappedReadCloser) Close() error {
	if w.closer != nil {
		w.closer.Close()
	}
	return w.underlying.Close()
}

// openLogReader opens a log file for reading, transparently decompressing
// .xz, .gz and .zst variants left behind by `rocforge archive`.
func openLogReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasSuffix(path, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &wrappedReadCloser{Reader: xr, underlying: f}, nil
	case strings.HasSuffix(path, ".gz"):
		gr, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &wrappedReadCloser{Reader: gr, underlying: f, closer: gr}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &wrappedReadCloser{Reader: zr.IOReadCloser(), underlying: f}, nil
	default:
		return f, nil
	}
}

// findStageLog resolves a stage name ("compile") or file name
// ("compile.log") to an existing log path, trying compressed variants.
func findStageLog(stage string) (string, error) {
	name := stage
	if !strings.HasSuffix(name, ".log") {
		name += ".log"
	}
	for _, ext := range []string{"", ".xz", ".gz", ".zst"} {
		path := filepath.Join(logDir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no log found for stage %q in %s", stage, logDir)
}

// handleLogCommand shows a stage log through $PAGER, falling back to plain
// stdout when no pager works.
func handleLogCommand(args []string) error {
	if len(args) == 0 {
		colSuccess.Println("Usage: rocforge log <stage>")
		fmt.Println("Available logs:")
		for _, name := range stageLogNames {
			if path, err := findStageLog(name); err == nil {
				fmt.Printf("  %s\n", path)
			}
		}
		return nil
	}

	path, err := findStageLog(args[0])
	if err != nil {
		return err
	}
	r, err := openLogReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	pager := os.Getenv("PAGER")
	var pagerArgs []string
	if pager == "" {
		pager = "less"
		pagerArgs = []string{"-r"}
	} else if pager == "less" {
		pagerArgs = []string{"-r"}
	}

	cmd := exec.Command(pager, pagerArgs...)
	cmd.Stdin = r
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		// Fallback to plain stdout if pager fails
		r.Close()
		r, err = openLogReader(path)
		if err != nil {
			return err
		}
		defer r.Close()
		_, err = io.Copy(os.Stdout, r)
		return err
	}
	return nil
}

// archiveLogs bundles every log of the current run into a single
// rocforge-logs-<timestamp>.tar.<format> under workDir. format is "zst"
// (default) or "gz" (parallel gzip, for hosts that lack zstd tooling).
func archiveLogs(format string) (string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return "", fmt.Errorf("cannot read log directory %s: %w", logDir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no logs to archive in %s", logDir)
	}

	stamp := time.Now().Format("20060102-150405")
	outPath := filepath.Join(workDir, fmt.Sprintf("rocforge-logs-%s.tar.%s", stamp, format))
	outFile, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer outFile.Close()

	var cw io.WriteCloser
	switch format {
	case "zst":
		zw, err := zstd.NewWriter(outFile)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd writer: %w", err)
		}
		cw = zw
	case "gz":
		cw = pgzip.NewWriter(outFile)
	default:
		return "", fmt.Errorf("unknown archive format %q (want zst or gz)", format)
	}

	tw := tar.NewWriter(cw)
	for _, name := range names {
		path := filepath.Join(logDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return "", err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := cw.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

// handleArchiveCommand compresses the run's logs into one tarball.
func handleArchiveCommand(args []string, cfg *Config) error {
	archiveCmd := flag.NewFlagSet("archive", flag.ExitOnError)
	format := archiveCmd.String("format", "", "Archive format: zst or gz")
	if err := archiveCmd.Parse(args); err != nil {
		return err
	}

	f := *format
	if f == "" {
		f = cfg.Values["ROCFORGE_LOG_FORMAT"]
	}
	if f == "" {
		f = "zst"
	}

	path, err := archiveLogs(f)
	if err != nil {
		return err
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Logs archived to %s\n", path)
	return nil
}
