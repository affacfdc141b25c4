package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slipway-sh/slipway/internal/ptyproc"
)

type fakeProcess struct {
	mu       sync.Mutex
	pid      int
	nextSub  int
	subs     map[int]ptyproc.OutputHandler
	written  strings.Builder
	killed   bool
	detached bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, subs: map[int]ptyproc.OutputHandler{}}
}

func (f *fakeProcess) PID() int { return f.pid }

func (f *fakeProcess) Write(data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.WriteString(data)
	return nil
}

func (f *fakeProcess) SubscribeOutput(handler ptyproc.OutputHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := f.nextSub
	f.subs[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeProcess) SubscribeExit(ptyproc.ExitHandler) func() { return func() {} }

func (f *fakeProcess) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeProcess) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = true
}

func (f *fakeProcess) Dispose() {}

func (f *fakeProcess) Emit(chunk string) {
	f.mu.Lock()
	handlers := make([]ptyproc.OutputHandler, 0, len(f.subs))
	for _, handler := range f.subs {
		handlers = append(handlers, handler)
	}
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(chunk)
	}
}

func (f *fakeProcess) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeProcess) Written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeProcess) WasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type fakeSpawner struct {
	proc    *fakeProcess
	err     error
	spawned chan struct{}
}

func newFakeSpawner(proc *fakeProcess) *fakeSpawner {
	return &fakeSpawner{proc: proc, spawned: make(chan struct{})}
}

func (s *fakeSpawner) Spawn(string, []string, string) (ptyproc.Process, error) {
	if s.err != nil {
		return nil, s.err
	}
	close(s.spawned)
	return s.proc, nil
}

func testOptions(t *testing.T, spawner Spawner) Options {
	t.Helper()
	return Options{
		BinaryPath:            "sh",
		WorkspaceRoot:         t.TempDir(),
		RunsRoot:              t.TempDir(),
		RunInfoTimeout:        5 * time.Second,
		RunDirFallbackTimeout: 5 * time.Second,
		RunDirPollInterval:    5 * time.Millisecond,
		Spawner:               spawner,
	}
}

func TestDispatchResolvesFromRunInfoMarker(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(321)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)
	opts.Prompt = "build the thing"

	go func() {
		<-spawner.spawned
		proc.Emit("starting up\n")
		proc.Emit(`@@slipway-run@@ {"run_id":"run-info-1","root":"/runs/run-info-1","pid":987}` + "\n")
	}()

	result, err := New(nil, nil).Dispatch(context.Background(), opts)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.RunID != "run-info-1" {
		t.Fatalf("run id = %q, want run-info-1", result.RunID)
	}
	if result.RunRootPath != "/runs/run-info-1" {
		t.Fatalf("root = %q, want /runs/run-info-1", result.RunRootPath)
	}
	if result.PID != 987 {
		t.Fatalf("pid = %d, want the marker pid 987", result.PID)
	}
	if !strings.Contains(proc.Written(), "build the thing\n") {
		t.Fatalf("prompt not forwarded; written = %q", proc.Written())
	}
	if proc.SubscriberCount() != 0 {
		t.Fatalf("racing subscription leaked: %d subscribers", proc.SubscriberCount())
	}
	if proc.WasKilled() {
		t.Fatal("dispatch killed the run process")
	}
}

func TestDispatchFallbackWinsWithoutWaitingForRunInfoTimeout(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(555)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)
	if err := os.Mkdir(filepath.Join(opts.RunsRoot, "run-old"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	go func() {
		<-spawner.spawned
		time.Sleep(20 * time.Millisecond)
		_ = os.Mkdir(filepath.Join(opts.RunsRoot, "run-new"), 0o750)
	}()

	started := time.Now()
	result, err := New(nil, nil).Dispatch(context.Background(), opts)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.RunID != "run-new" {
		t.Fatalf("run id = %q, want run-new", result.RunID)
	}
	if want := filepath.Join(opts.RunsRoot, "run-new"); result.RunRootPath != want {
		t.Fatalf("root = %q, want %q", result.RunRootPath, want)
	}
	if result.PID != 555 {
		t.Fatalf("pid = %d, want spawned pid 555", result.PID)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("dispatch took %s, should be bounded by the poll interval, not the 5s timeouts", elapsed)
	}
}

func TestDispatchSettlesExactlyOnce(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(11)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)

	go func() {
		<-spawner.spawned
		_ = os.Mkdir(filepath.Join(opts.RunsRoot, "run-dir"), 0o750)
		proc.Emit(`@@slipway-run@@ {"run_id":"run-marker","root":"/runs/run-marker","pid":11}` + "\n")
	}()

	result, err := New(nil, nil).Dispatch(context.Background(), opts)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.RunID != "run-marker" && result.RunID != "run-dir" {
		t.Fatalf("run id = %q, want one of the two racing identities", result.RunID)
	}

	// Late signals after settlement must be inert: the racing subscription
	// is gone and another marker cannot mutate the returned result.
	if proc.SubscriberCount() != 0 {
		t.Fatalf("racing subscription leaked: %d subscribers", proc.SubscriberCount())
	}
	proc.Emit(`@@slipway-run@@ {"run_id":"run-late","root":"/runs/run-late","pid":11}` + "\n")
}

func TestDispatchRunInfoTimeoutDefersToDirectoryWatch(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(77)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)
	opts.RunInfoTimeout = 30 * time.Millisecond

	go func() {
		<-spawner.spawned
		// Marker arrives only after its window closed; the directory is
		// the authoritative signal.
		time.Sleep(200 * time.Millisecond)
		proc.Emit(`@@slipway-run@@ {"run_id":"run-stale","root":"/runs/run-stale","pid":77}` + "\n")
		time.Sleep(50 * time.Millisecond)
		_ = os.Mkdir(filepath.Join(opts.RunsRoot, "run-real"), 0o750)
	}()

	result, err := New(nil, nil).Dispatch(context.Background(), opts)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.RunID != "run-real" {
		t.Fatalf("run id = %q, want run-real from the directory watch", result.RunID)
	}
}

func TestDispatchFailsWithTimeoutWhenNothingResolves(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(9)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)
	opts.RunInfoTimeout = 20 * time.Millisecond
	opts.RunDirFallbackTimeout = 80 * time.Millisecond

	_, err := New(nil, nil).Dispatch(context.Background(), opts)
	if !errors.Is(err, ErrDispatchTimeout) {
		t.Fatalf("err = %v, want ErrDispatchTimeout", err)
	}
	if proc.WasKilled() {
		t.Fatal("timeout must leave the run process alone")
	}
}

func TestDispatchSpawnFailureSurfacesImmediately(t *testing.T) {
	t.Parallel()

	spawner := &fakeSpawner{err: errors.New("permission denied")}
	opts := testOptions(t, spawner)

	_, err := New(nil, nil).Dispatch(context.Background(), opts)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
}

func TestDispatchMissingBinaryFailsBeforeSpawn(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(1)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)
	opts.BinaryPath = filepath.Join(t.TempDir(), "absent-binary")

	_, err := New(nil, nil).Dispatch(context.Background(), opts)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	select {
	case <-spawner.spawned:
		t.Fatal("spawner invoked despite failed preflight")
	default:
	}
}

func TestDispatchHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	proc := newFakeProcess(4)
	spawner := newFakeSpawner(proc)
	opts := testOptions(t, spawner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-spawner.spawned
		cancel()
	}()

	_, err := New(nil, nil).Dispatch(ctx, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
