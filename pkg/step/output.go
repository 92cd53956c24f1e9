package step

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/goliatone/go-filetemplate/pkg/config"
)

const outputFileMode = 0o644

// WriteOutput stores rendered in a new file named prefix+random+suffix inside
// the configured output directory and returns its absolute path. The name is
// reserved by os.CreateTemp; the bytes are then swapped in atomically, so a
// reader never sees a partially written file. Nothing is left behind on
// failure.
func WriteOutput(rendered string, cfg config.Config) (string, error) {
	dir := strings.TrimSpace(cfg.OutputDir)
	if dir == "" {
		dir = os.TempDir()
	}

	f, err := os.CreateTemp(dir, cfg.OutputFilePrefix+"*"+cfg.OutputFileSuffix)
	if err != nil {
		return "", fmt.Errorf("%w: create: %w", ErrOutputWrite, err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: close: %w", ErrOutputWrite, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %w", ErrOutputWrite, err)
	}

	// CreateTemp uses 0600 and atomic.WriteFile keeps the existing mode.
	if err := os.Chmod(abs, outputFileMode); err != nil {
		_ = os.Remove(abs)
		return "", fmt.Errorf("%w: chmod: %w", ErrOutputWrite, err)
	}

	if err := atomic.WriteFile(abs, strings.NewReader(rendered)); err != nil {
		_ = os.Remove(abs)
		return "", fmt.Errorf("%w: write: %w", ErrOutputWrite, err)
	}
	return abs, nil
}
