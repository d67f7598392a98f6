package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records, inside the workspace, when preflight checks last
// passed. `docanalysis run` only checks workspaces without it.
const MarkerFile = ".preflight-passed"

// NeedsCheck returns true if the workspace has no passed-check marker.
func NeedsCheck(workspace string) bool {
	_, err := os.Stat(filepath.Join(workspace, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed writes the marker with the current time.
func MarkPassed(workspace string) error {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(workspace, MarkerFile), content, 0o644)
}

// ClearMarker removes the marker, forcing a re-check on the next run.
func ClearMarker(workspace string) error {
	err := os.Remove(filepath.Join(workspace, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago checks passed, or zero without a marker.
func MarkerAge(workspace string) time.Duration {
	content, err := os.ReadFile(filepath.Join(workspace, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
