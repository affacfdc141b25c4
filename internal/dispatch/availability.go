package dispatch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ResolveBinary validates that the run binary can be executed before any
// spawn attempt, so a missing binary fails dispatch immediately instead of
// stalling the detection race. Bare names are resolved on PATH; anything
// containing a path separator is checked on disk directly.
func ResolveBinary(binaryPath string) (string, error) {
	return resolveBinary(binaryPath, exec.LookPath)
}

func resolveBinary(binaryPath string, lookPath func(file string) (string, error)) (string, error) {
	binaryPath = strings.TrimSpace(binaryPath)
	if binaryPath == "" {
		return "", errors.New("binary path is required")
	}

	if !strings.ContainsRune(binaryPath, os.PathSeparator) {
		resolved, err := lookPath(binaryPath)
		if err != nil {
			return "", fmt.Errorf("binary %q not found on PATH: %w", binaryPath, err)
		}
		return resolved, nil
	}

	info, err := os.Stat(binaryPath)
	if err != nil {
		return "", fmt.Errorf("stat binary %q: %w", binaryPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("binary %q is a directory", binaryPath)
	}
	return binaryPath, nil
}
