package dispatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveBinaryUsesLookPathForBareNames(t *testing.T) {
	t.Parallel()

	resolved, err := resolveBinary("agent", func(file string) (string, error) {
		if file != "agent" {
			t.Fatalf("lookPath received %q, want agent", file)
		}
		return "/usr/local/bin/agent", nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != "/usr/local/bin/agent" {
		t.Fatalf("resolved = %q, want /usr/local/bin/agent", resolved)
	}
}

func TestResolveBinaryFailsWhenNotOnPath(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("not found")
	_, err := resolveBinary("agent", func(string) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped lookPath error", err)
	}
}

func TestResolveBinaryStatsExplicitPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	binary := filepath.Join(dir, "agent")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o700); err != nil {
		t.Fatalf("write: %v", err)
	}

	resolved, err := resolveBinary(binary, func(string) (string, error) {
		t.Fatal("lookPath must not be called for explicit paths")
		return "", nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != binary {
		t.Fatalf("resolved = %q, want %q", resolved, binary)
	}
}

func TestResolveBinaryRejectsDirectoriesAndMissingPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := resolveBinary(dir, nil); err == nil {
		t.Fatal("directory accepted as binary")
	}
	if _, err := resolveBinary(filepath.Join(dir, "missing"), nil); err == nil {
		t.Fatal("missing path accepted as binary")
	}
	if _, err := resolveBinary("   ", nil); err == nil {
		t.Fatal("blank path accepted as binary")
	}
}
