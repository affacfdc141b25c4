// Package ptyproc spawns an external command attached to a pseudoterminal
// and fans its output out to per-handle subscribers.
//
// Every handle owns its own subscriber set. Detach tears the set down and
// permanently silences the handle without touching the process itself, which
// keeps running; the run belongs to the user, not to this package.
package ptyproc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

const readBufferSize = 4096

// ExitEvent describes how the process ended. Delivered at most once per
// process lifetime.
type ExitEvent struct {
	// Code is the exit status, or -1 when the process was signaled.
	Code int
	// Signal names the terminating signal, empty on a normal exit.
	Signal string
}

// OutputHandler consumes one chunk of pty output.
type OutputHandler func(chunk string)

// ExitHandler consumes the process exit event.
type ExitHandler func(event ExitEvent)

// Process is the contract the dispatch coordinator races against. Tests
// substitute fakes for it through the dispatch spawner override.
type Process interface {
	PID() int
	Write(data string) error
	SubscribeOutput(handler OutputHandler) (unsubscribe func())
	SubscribeExit(handler ExitHandler) (unsubscribe func())
	Kill() error
	Detach()
	Dispose()
}

// Handle is a live pty-attached process.
type Handle struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu         sync.Mutex
	nextSub    uint64
	outputSubs map[uint64]OutputHandler
	exitSubs   map[uint64]ExitHandler
	detached   bool
	exited     bool
	exitEvent  ExitEvent

	closeOnce sync.Once
}

// Spawn starts binary with args in workdir, attached to a new pty. A failure
// to start (missing binary, permission denied) surfaces here synchronously;
// Spawn never returns a handle that will not emit events.
func Spawn(binary string, args []string, workdir string) (*Handle, error) {
	cmd := exec.Command(binary, args...)
	cmd.Dir = workdir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	handle := &Handle{
		cmd:        cmd,
		ptmx:       ptmx,
		outputSubs: map[uint64]OutputHandler{},
		exitSubs:   map[uint64]ExitHandler{},
	}
	go handle.readLoop()
	go handle.waitForExit()
	return handle, nil
}

// PID returns the OS process id of the spawned process.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Write sends data to the process's terminal input.
func (h *Handle) Write(data string) error {
	if _, err := h.ptmx.Write([]byte(data)); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// SubscribeOutput registers an output handler. The returned unsubscribe
// function is idempotent. Subscribing on a detached handle is a no-op.
func (h *Handle) SubscribeOutput(handler OutputHandler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached || handler == nil {
		return func() {}
	}

	h.nextSub++
	id := h.nextSub
	h.outputSubs[id] = handler
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.outputSubs, id)
	}
}

// SubscribeExit registers an exit handler. If the process already exited the
// stored event is delivered immediately; a handler never sees more than one
// event either way.
func (h *Handle) SubscribeExit(handler ExitHandler) func() {
	h.mu.Lock()
	if h.detached || handler == nil {
		h.mu.Unlock()
		return func() {}
	}
	if h.exited {
		event := h.exitEvent
		h.mu.Unlock()
		handler(event)
		return func() {}
	}

	h.nextSub++
	id := h.nextSub
	h.exitSubs[id] = handler
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.exitSubs, id)
	}
}

// Kill terminates the process.
func (h *Handle) Kill() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill pid %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}

// Detach stops all handler delivery without killing the process. Idempotent.
func (h *Handle) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	h.outputSubs = map[uint64]OutputHandler{}
	h.exitSubs = map[uint64]ExitHandler{}
}

// Dispose detaches and releases the pty file descriptor.
func (h *Handle) Dispose() {
	h.Detach()
	h.closeOnce.Do(func() {
		_ = h.ptmx.Close()
	})
}

func (h *Handle) readLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			h.fanOutOutput(string(buf[:n]))
		}
		if err != nil {
			// EIO here is the pty's way of reporting child exit.
			return
		}
	}
}

func (h *Handle) fanOutOutput(chunk string) {
	h.mu.Lock()
	handlers := make([]OutputHandler, 0, len(h.outputSubs))
	for _, handler := range h.outputSubs {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler(chunk)
	}
}

func (h *Handle) waitForExit() {
	err := h.cmd.Wait()
	event := exitEventFrom(h.cmd.ProcessState, err)

	h.mu.Lock()
	h.exited = true
	h.exitEvent = event
	handlers := make([]ExitHandler, 0, len(h.exitSubs))
	for _, handler := range h.exitSubs {
		handlers = append(handlers, handler)
	}
	h.exitSubs = map[uint64]ExitHandler{}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func exitEventFrom(state *os.ProcessState, waitErr error) ExitEvent {
	if state == nil {
		event := ExitEvent{Code: -1}
		if waitErr != nil {
			event.Signal = waitErr.Error()
		}
		return event
	}

	event := ExitEvent{Code: state.ExitCode()}
	if status := state.String(); event.Code == -1 && strings.HasPrefix(status, "signal: ") {
		event.Signal = strings.TrimPrefix(status, "signal: ")
	}
	return event
}

var _ Process = (*Handle)(nil)
