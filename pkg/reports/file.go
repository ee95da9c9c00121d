package reports

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rmax-ai/sensorsim/pkg/simulation"
)

// WriteFile renders results and replaces path atomically, creating parent
// directories as needed. A failed write leaves any previous report intact.
func WriteFile(path string, format Format, results []simulation.TestResult) error {
	var buf bytes.Buffer
	if err := Write(&buf, format, results); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tempFile, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name()) // no-op after the rename

	if _, err := tempFile.Write(buf.Bytes()); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}
