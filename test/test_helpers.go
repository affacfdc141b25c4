// Package test provides shared testing utilities for slipway.
//
// This package contains common filesystem helpers used by the integration
// tests: temp run trees, log file fixtures, and eventual-condition waits.
package test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Context returns a test context cancelled on cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// RunsRoot creates a temporary runs-root directory with the given
// pre-existing run directories.
func RunsRoot(t *testing.T, existing ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range existing {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o750), "create run dir %s", name)
	}
	return root
}

// WriteLog creates or overwrites a log file with the given content and
// returns its path.
func WriteLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write log %s", path)
	return path
}

// AppendLog appends to an existing log file.
func AppendLog(t *testing.T, path, content string) {
	t.Helper()
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err, "open log %s", path)
	defer file.Close()
	_, err = file.WriteString(content)
	require.NoError(t, err, "append to log %s", path)
}

// AssertDirExists checks that a directory exists.
func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err, "directory should exist: %s", path)
	assert.True(t, info.IsDir(), "path should be a directory: %s", path)
}

// Eventually polls condition until it holds or the deadline expires.
func Eventually(t *testing.T, condition func() bool, deadline time.Duration, msg string) {
	t.Helper()
	assert.Eventually(t, condition, deadline, 10*time.Millisecond, msg)
}
