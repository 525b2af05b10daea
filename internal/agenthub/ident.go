package agenthub

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxIdentifierLength = 256

// ValidateIdentifier accepts names made of letters, digits, dash and
// underscore, 1-256 characters. Every engine operation runs its
// caller-supplied identifiers through here before touching any state.
func ValidateIdentifier(value, field string) error {
	if value == "" {
		return validationError(CodeUnsafeIdentifier, fmt.Sprintf("%s must not be empty", field))
	}
	if len(value) > maxIdentifierLength {
		return validationError(CodeUnsafeIdentifier, fmt.Sprintf("%s exceeds %d characters", field, maxIdentifierLength))
	}
	if strings.Contains(value, "..") || strings.ContainsAny(value, `/\`) {
		return validationError(CodeUnsafeIdentifier, fmt.Sprintf("%s contains path separators", field))
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return validationError(CodeUnsafeIdentifier, fmt.Sprintf("%s contains illegal character %q", field, r))
		}
	}
	return nil
}

// ValidateExternalPath accepts an absolute path to an existing regular file
// strictly inside the caller's home directory. Used for external resource
// references, where the engine records the path instead of copying bytes.
func ValidateExternalPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", validationError(CodeInvalidPath, "file path must not be empty")
	}
	if strings.Contains(path, "..") || strings.HasPrefix(path, "~") {
		return "", validationError(CodeInvalidPath, "file path must not contain '..' or '~'")
	}
	if !filepath.IsAbs(path) {
		return "", validationError(CodeInvalidPath, "file path must be absolute")
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return "", validationError(CodeInvalidPath, "file does not exist")
		}
		return "", validationError(CodeInvalidPath, "file is not readable")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	home = filepath.Clean(home)
	if real, err := filepath.EvalSymlinks(home); err == nil {
		home = real
	}
	// The prefix check runs on the symlink-resolved path, so a link inside
	// the home directory cannot point a reference outside it.
	if resolved != home && !strings.HasPrefix(resolved, home+string(filepath.Separator)) {
		return "", validationError(CodeInvalidPath, "file path must be inside the home directory")
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", validationError(CodeInvalidPath, "file does not exist")
		}
		return "", validationError(CodeInvalidPath, "file is not readable")
	}
	if !info.Mode().IsRegular() {
		return "", validationError(CodeInvalidPath, "path is not a regular file")
	}
	f, err := os.Open(resolved)
	if err != nil {
		return "", validationError(CodeInvalidPath, "file is not readable")
	}
	f.Close()
	return resolved, nil
}
