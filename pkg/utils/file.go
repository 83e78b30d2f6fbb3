package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// ResolveDestinationPath validates a local destination for a downloaded file.
// An existing directory is returned as is (the filename comes from the remote
// path); otherwise the parent directory must already exist.
func ResolveDestinationPath(destPath string) (string, error) {
	if info, err := os.Stat(destPath); err == nil {
		if info.IsDir() {
			return destPath, nil
		}
		return "", fmt.Errorf("destination path '%s' exists but is not a directory", destPath)
	} else if os.IsNotExist(err) {
		dir := filepath.Dir(destPath)
		if info, dirErr := os.Stat(dir); dirErr == nil && info.IsDir() {
			return destPath, nil
		}
		return "", fmt.Errorf("parent directory does not exist: %s", dir)
	} else {
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}
}

// FormatFileSize formats file size in human readable format.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
