// Package runwatch detects new run directories appearing under the runs root.
//
// Detection works by snapshot and diff: the caller captures the set of
// subdirectories before the run process is spawned, then Watch polls the root
// on a fixed interval and reports the first subdirectory not present in the
// snapshot. The runs root is read-only from this package's perspective; the
// external process is the only writer.
package runwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrWatchTimeout reports that no new run directory appeared before the
// fallback timeout elapsed.
var ErrWatchTimeout = errors.New("no new run directory before timeout")

// Config controls the polling cadence and the hard deadline.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Snapshot lists the subdirectory names currently present under runsRoot.
func Snapshot(runsRoot string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		return nil, fmt.Errorf("list runs root %q: %w", runsRoot, err)
	}

	names := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names[entry.Name()] = struct{}{}
		}
	}
	return names, nil
}

// Watch polls runsRoot until a subdirectory outside baseline appears, the
// timeout elapses, or ctx is cancelled. When several new directories show up
// in the same tick, the one with the newest modification time wins; with
// identical timestamps the choice between them is unspecified.
func Watch(ctx context.Context, runsRoot string, baseline map[string]struct{}, cfg Config) (string, error) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("watch %q for %s: %w", runsRoot, cfg.Timeout, ErrWatchTimeout)
		case <-ticker.C:
			// Transient listing failures are absorbed; the deadline is
			// the only way this loop gives up.
			if name := newestNewDir(runsRoot, baseline); name != "" {
				return name, nil
			}
		}
	}
}

func newestNewDir(runsRoot string, baseline map[string]struct{}) string {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		return ""
	}

	newest := ""
	var newestMod time.Time
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, existed := baseline[entry.Name()]; existed {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
		}
	}
	return newest
}
