package common

import (
	"fmt"
	"path/filepath"
	"strings"
)

// File permission constants shared across the application
const (
	// FilePermissionSecure is used for sensitive files such as the config
	FilePermissionSecure = 0600

	// DirPermissionSecure is used for directories containing sensitive files
	DirPermissionSecure = 0700
)

// CleanPath sanitizes a file path to prevent directory traversal
func CleanPath(path string) (string, error) {
	cleaned := filepath.Clean(path)

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path: contains directory traversal")
	}

	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		cleaned = abs
	}

	return cleaned, nil
}
