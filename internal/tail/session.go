// Package tail maintains a bounded in-memory mirror of a growing log file.
//
// A Session binds to one file path for its lifetime and is driven entirely by
// its caller: Start performs the initial bounded read, and each Poll performs
// one stat-and-read cycle. The session never schedules its own I/O and is not
// safe for overlapping Poll calls on the same instance.
package tail

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// DefaultMaxBytes caps how much of the file is read per operation.
	DefaultMaxBytes = 256 * 1024
	// DefaultMaxChars caps the retained mirror length.
	DefaultMaxChars = 200_000

	// verifyWindow is how many trailing bytes are re-read to confirm the
	// file still extends the previously observed content.
	verifyWindow = 4 * 1024
)

// UpdateKind tags a tail update.
type UpdateKind string

const (
	// UpdateSet replaces the caller's copy wholesale (initial read,
	// truncation, or rotation).
	UpdateSet UpdateKind = "set"
	// UpdateAppend extends the caller's copy with new content.
	UpdateAppend UpdateKind = "append"
	// UpdateError reports an inaccessible file.
	UpdateError UpdateKind = "error"
)

// Update is one tail observation. Failures are carried as data, never as
// panics or Go errors, so a render loop can keep polling through transient
// I/O problems.
type Update struct {
	Kind      UpdateKind
	Content   string
	Empty     bool
	Truncated bool
	Message   string
}

// Limits configures the hard caps for one session.
type Limits struct {
	MaxBytes int64
	MaxChars int
}

// Session mirrors the tail of one file.
type Session struct {
	limits   Limits
	path     string
	started  bool
	text     string
	lastSize int64
}

// NewSession creates a tail session. Zero or negative limits fall back to the
// package defaults.
func NewSession(limits Limits) *Session {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	if limits.MaxChars <= 0 {
		limits.MaxChars = DefaultMaxChars
	}
	return &Session{limits: limits}
}

// Start binds the session to path and performs the initial bounded read.
// Re-binding to a different file requires a fresh Start call.
func (s *Session) Start(path string) Update {
	s.path = path
	s.started = false
	s.text = ""
	s.lastSize = 0

	content, size, err := s.readTailWindow()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Update{Kind: UpdateError, Message: fmt.Sprintf("file not found: %s", path)}
		}
		return Update{Kind: UpdateError, Message: fmt.Sprintf("read %s: %v", path, err)}
	}

	s.started = true
	s.text = content
	s.lastSize = size
	return Update{Kind: UpdateSet, Content: content, Empty: size == 0}
}

// Poll re-stats the file and returns one update, or nil when nothing changed.
func (s *Session) Poll() *Update {
	if !s.started {
		update := s.Start(s.path)
		return &update
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return &Update{Kind: UpdateError, Message: fmt.Sprintf("stat %s: %v", s.path, err)}
	}

	size := info.Size()
	switch {
	case size == s.lastSize:
		return nil
	case size < s.lastSize:
		return s.reset(true)
	}

	if !s.stillExtends() {
		// Same name, different file: rotation is reported as truncation.
		return s.reset(true)
	}

	if size-s.lastSize > s.limits.MaxBytes {
		// The delta alone exceeds the read cap; the retained window jumps
		// forward, so the caller must replace rather than extend.
		return s.reset(false)
	}

	appended, err := readRange(s.path, s.lastSize, size-s.lastSize)
	if err != nil {
		return &Update{Kind: UpdateError, Message: fmt.Sprintf("read %s: %v", s.path, err)}
	}

	s.text = clampTail(s.text+appended, s.limits.MaxChars)
	s.lastSize = size
	return &Update{Kind: UpdateAppend, Content: appended}
}

// Text returns the current bounded mirror. Pure accessor, no I/O.
func (s *Session) Text() string {
	return s.text
}

func (s *Session) reset(truncated bool) *Update {
	content, size, err := s.readTailWindow()
	if err != nil {
		return &Update{Kind: UpdateError, Message: fmt.Sprintf("read %s: %v", s.path, err)}
	}
	s.text = content
	s.lastSize = size
	return &Update{Kind: UpdateSet, Content: content, Empty: size == 0, Truncated: truncated}
}

// stillExtends re-reads a small window ending at the previously observed size
// and compares it with the retained text. A mismatch means the file was
// replaced rather than appended to.
func (s *Session) stillExtends() bool {
	if s.lastSize == 0 || s.text == "" {
		return true
	}
	window := int64(len(s.text))
	if window > verifyWindow {
		window = verifyWindow
	}
	if window > s.lastSize {
		window = s.lastSize
	}
	got, err := readRange(s.path, s.lastSize-window, window)
	if err != nil {
		return false
	}
	return strings.HasSuffix(s.text, got)
}

func (s *Session) readTailWindow() (string, int64, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", 0, err
	}

	size := info.Size()
	offset := int64(0)
	if size > s.limits.MaxBytes {
		offset = size - s.limits.MaxBytes
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return "", 0, err
	}

	data, err := io.ReadAll(io.LimitReader(file, s.limits.MaxBytes))
	if err != nil {
		return "", 0, err
	}
	return clampTail(string(data), s.limits.MaxChars), size, nil
}

func readRange(path string, offset int64, length int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(io.LimitReader(file, length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func clampTail(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[len(text)-maxChars:]
}
