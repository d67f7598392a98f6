package logging

import (
	"os"
	"path/filepath"
)

// LogFileName is the name of the main log file inside the log directory.
const LogFileName = "docanalysis.log"

// FailuresFileName lists documents that failed extraction, one per line.
const FailuresFileName = "failures.log"

// LogDir returns the log directory for a workspace.
// An empty workspace falls back to the user's home directory.
func LogDir(workspace string) string {
	if workspace != "" {
		return filepath.Join(workspace, "logs")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docanalysis", "logs")
	}
	return filepath.Join(home, ".docanalysis", "logs")
}

// LogPath returns the main log file path for a workspace.
func LogPath(workspace string) string {
	return filepath.Join(LogDir(workspace), LogFileName)
}

// FailuresPath returns the extraction failures log for a workspace.
func FailuresPath(workspace string) string {
	return filepath.Join(LogDir(workspace), FailuresFileName)
}
