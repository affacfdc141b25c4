// Package dispatch launches a run process and resolves the identity of the
// run it creates.
//
// Two detection strategies race: the run-info marker parsed from the
// process's own output (the expected fast path) and the run-directory watch
// (the designed safety net when the process is slow to print its marker, or
// never prints one). Exactly one of them, or timeout exhaustion, settles a
// dispatch. Settlement always tears down the racing subscriptions and timers
// but never kills the process; the run may still be doing useful work the
// user can inspect by hand.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/slipway-sh/slipway/internal/events"
	"github.com/slipway-sh/slipway/internal/ptyproc"
	"github.com/slipway-sh/slipway/internal/runinfo"
	"github.com/slipway-sh/slipway/internal/runwatch"
)

// Sentinel errors for the two dispatch failure modes.
var (
	// ErrSpawnFailed reports that the run process could not be started.
	ErrSpawnFailed = errors.New("spawn run process failed")
	// ErrDispatchTimeout reports that neither detection path succeeded
	// before the directory-watch fallback timeout.
	ErrDispatchTimeout = errors.New("dispatch timed out")
)

// Default timing parameters, used when Options leaves them zero.
const (
	DefaultRunInfoTimeout        = 5 * time.Second
	DefaultRunDirFallbackTimeout = 30 * time.Second
	DefaultRunDirPollInterval    = 250 * time.Millisecond
)

// Spawner starts the external run process. Production code uses the pty
// spawner; tests substitute fakes.
type Spawner interface {
	Spawn(binary string, args []string, workdir string) (ptyproc.Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(binary string, args []string, workdir string) (ptyproc.Process, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(binary string, args []string, workdir string) (ptyproc.Process, error) {
	return f(binary, args, workdir)
}

// Options configures one dispatch call. Immutable for its duration.
type Options struct {
	BinaryPath    string
	WorkspaceRoot string
	RunsRoot      string
	Prompt        string

	RunInfoTimeout        time.Duration
	RunDirFallbackTimeout time.Duration
	RunDirPollInterval    time.Duration

	// Spawner overrides process creation; tests only.
	Spawner Spawner
}

// Result identifies the dispatched run. Never partially populated.
type Result struct {
	RunID       string
	RunRootPath string
	PID         int
}

// Dispatcher coordinates run dispatch.
type Dispatcher struct {
	logger *log.Logger
	bus    *events.Bus
}

// New creates a dispatcher. Both collaborators are optional; a nil logger
// discards log output and a nil bus publishes nowhere.
func New(logger *log.Logger, bus *events.Bus) *Dispatcher {
	return &Dispatcher{logger: logger, bus: bus}
}

// Dispatch spawns the run process and blocks until one of {run-info marker,
// new run directory, fallback timeout} settles the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, opts Options) (Result, error) {
	if err := validateOptions(&opts); err != nil {
		return Result{}, err
	}

	dispatchID := uuid.NewString()
	logger := d.logWith("dispatch_id", dispatchID)

	binary, err := ResolveBinary(opts.BinaryPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// The snapshot must precede the spawn so a run directory created in a
	// race with dispatch startup is never missed.
	baseline, err := runwatch.Snapshot(opts.RunsRoot)
	if err != nil {
		return Result{}, err
	}

	spawner := opts.Spawner
	if spawner == nil {
		spawner = SpawnerFunc(func(binary string, args []string, workdir string) (ptyproc.Process, error) {
			return ptyproc.Spawn(binary, args, workdir)
		})
	}

	proc, err := spawner.Spawn(binary, nil, opts.WorkspaceRoot)
	if err != nil {
		d.publish(events.Event{Type: events.EventTypeRunDispatchFailed, DispatchID: dispatchID, Payload: err.Error()})
		return Result{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	logger.With("pid", proc.PID(), "binary", binary).Info("run process spawned")
	d.publish(events.Event{Type: events.EventTypeRunSpawned, DispatchID: dispatchID, Payload: proc.PID()})

	if opts.Prompt != "" {
		if err := proc.Write(opts.Prompt + "\n"); err != nil {
			logger.With("error", err).Warn("forward prompt to run process")
		}
	}

	return d.race(ctx, opts, proc, baseline, dispatchID, logger)
}

// race runs the marker path, the directory-watch path, and the timeouts
// against each other. First settlement wins; the loop returns exactly once.
func (d *Dispatcher) race(
	ctx context.Context,
	opts Options,
	proc ptyproc.Process,
	baseline map[string]struct{},
	dispatchID string,
	logger *log.Logger,
) (Result, error) {
	infoCh := make(chan runinfo.Info, 1)
	extractor := runinfo.NewExtractor(func(info runinfo.Info) {
		select {
		case infoCh <- info:
		default:
		}
	})
	unsubscribe := proc.SubscribeOutput(extractor.Feed)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	dirCh := make(chan string, 1)
	dirErrCh := make(chan error, 1)
	go func() {
		name, err := runwatch.Watch(watchCtx, opts.RunsRoot, baseline, runwatch.Config{
			Interval: opts.RunDirPollInterval,
			Timeout:  opts.RunDirFallbackTimeout,
		})
		if err != nil {
			dirErrCh <- err
			return
		}
		dirCh <- name
	}()

	infoTimer := time.NewTimer(opts.RunInfoTimeout)

	// Mandatory teardown on every settlement path; a long-lived host makes
	// repeated dispatch calls and leaked listeners or timers accumulate.
	defer func() {
		unsubscribe()
		cancelWatch()
		infoTimer.Stop()
	}()

	markerArmed := true
	for {
		select {
		case info := <-infoCh:
			if !markerArmed {
				continue
			}
			result := Result{RunID: info.RunID, RunRootPath: info.RootPath, PID: info.PID}
			if result.PID == 0 {
				result.PID = proc.PID()
			}
			logger.With("run_id", result.RunID, "source", "run-info").Info("run identity resolved")
			d.publish(events.Event{Type: events.EventTypeRunDetected, DispatchID: dispatchID, RunID: result.RunID, Payload: "run-info"})
			return result, nil

		case name := <-dirCh:
			result := Result{
				RunID:       name,
				RunRootPath: filepath.Join(opts.RunsRoot, name),
				PID:         proc.PID(),
			}
			logger.With("run_id", result.RunID, "source", "dir-watch").Info("run identity resolved")
			d.publish(events.Event{Type: events.EventTypeRunDetected, DispatchID: dispatchID, RunID: result.RunID, Payload: "dir-watch"})
			return result, nil

		case err := <-dirErrCh:
			d.publish(events.Event{Type: events.EventTypeRunDispatchFailed, DispatchID: dispatchID, Payload: err.Error()})
			if errors.Is(err, runwatch.ErrWatchTimeout) {
				logger.With("timeout", opts.RunDirFallbackTimeout).Error("dispatch failed, no run detected")
				return Result{}, fmt.Errorf("%w: %v", ErrDispatchTimeout, err)
			}
			return Result{}, err

		case <-infoTimer.C:
			// The marker path is no longer trusted, but the directory
			// watch keeps going; only its own timeout is a hard failure.
			markerArmed = false
			unsubscribe()
			logger.With("timeout", opts.RunInfoTimeout).Debug("run-info timeout, deferring to directory watch")

		case <-ctx.Done():
			d.publish(events.Event{Type: events.EventTypeRunDispatchFailed, DispatchID: dispatchID, Payload: ctx.Err().Error()})
			return Result{}, ctx.Err()
		}
	}
}

func (d *Dispatcher) publish(event events.Event) {
	if d.bus != nil {
		d.bus.Publish(event)
	}
}

func (d *Dispatcher) logWith(args ...any) *log.Logger {
	if d.logger == nil {
		return log.New(io.Discard)
	}
	return d.logger.With(args...)
}

func validateOptions(opts *Options) error {
	if opts.BinaryPath == "" {
		return errors.New("binary path is required")
	}
	if opts.RunsRoot == "" {
		return errors.New("runs root is required")
	}
	if opts.RunInfoTimeout <= 0 {
		opts.RunInfoTimeout = DefaultRunInfoTimeout
	}
	if opts.RunDirFallbackTimeout <= 0 {
		opts.RunDirFallbackTimeout = DefaultRunDirFallbackTimeout
	}
	if opts.RunDirPollInterval <= 0 {
		opts.RunDirPollInterval = DefaultRunDirPollInterval
	}
	return nil
}
