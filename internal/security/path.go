package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a file path is safe and doesn't contain directory traversal attempts
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains null byte")
	}

	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}

// JoinWithinBase joins name onto baseDir and verifies the result does not
// escape baseDir. It is used to derive per-session files from session ids.
func JoinWithinBase(baseDir, name string) (string, error) {
	if err := ValidateFilePath(name); err != nil {
		return "", err
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("name must not contain path separators: %s", name)
	}

	cleanBase := filepath.Clean(baseDir)
	full := filepath.Join(cleanBase, name)
	rel, err := filepath.Rel(cleanBase, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes base directory: %s", name)
	}
	return full, nil
}
