// Package orchestrator owns the daemon's state: the directory registry,
// the monitor and the scheduler. It implements the directory lifecycle
// commands and the single-goroutine event loop that drives them.
//
// Lifecycle per source directory:
//
//	Unknown  --add-->            Active
//	Active   --cancel-->         Inactive
//	Inactive --add/sync-->       Active
//	Inactive --delete-->         Unknown
//
// Nothing in this package is safe for concurrent use. Run is the only
// goroutine that touches an Orchestrator once the loop has started.
package orchestrator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/tonimelisma/dirsync/internal/monitor"
	"github.com/tonimelisma/dirsync/internal/notify"
	"github.com/tonimelisma/dirsync/internal/registry"
	"github.com/tonimelisma/dirsync/internal/scheduler"
)

// DefaultPollInterval bounds how long the loop waits between ticks.
const DefaultPollInterval = 100 * time.Millisecond

// Refusals returned by the lifecycle commands. Use errors.Is to check.
var (
	ErrAlreadyQueued  = errors.New("orchestrator: directory already registered")
	ErrNotMonitored   = errors.New("orchestrator: directory not monitored")
	ErrBusy           = errors.New("orchestrator: directory is being synced")
	ErrSyncInProgress = errors.New("orchestrator: sync already in progress")
	ErrActive         = errors.New("orchestrator: active directory cannot be deleted")
	ErrShutdown       = errors.New("orchestrator: manager is shut down")
)

// Watcher is the part of the monitor the orchestrator uses.
// *monitor.Monitor implements it.
type Watcher interface {
	Watch(dir string) (int, error)
	Unwatch(handle int) error
	Ready() <-chan struct{}
	Drain(reg *registry.Registry, q monitor.Enqueuer) int
	Stop(reg *registry.Registry) error
}

// State is the lifecycle state of one source directory.
type State int

const (
	StateUnknown State = iota
	StateInactive
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Config wires an Orchestrator.
type Config struct {
	Registry     *registry.Registry
	Monitor      Watcher
	Scheduler    *scheduler.Scheduler
	Sink         *notify.Sink
	Logger       *slog.Logger
	PollInterval time.Duration
}

// Orchestrator is the daemon context passed to every operation.
type Orchestrator struct {
	reg    *registry.Registry
	mon    Watcher
	sched  *scheduler.Scheduler
	sink   *notify.Sink
	logger *slog.Logger
	poll   time.Duration

	shutdown bool
	drained  bool
}

// New creates an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &Orchestrator{
		reg:    cfg.Registry,
		mon:    cfg.Monitor,
		sched:  cfg.Scheduler,
		sink:   cfg.Sink,
		logger: cfg.Logger,
		poll:   poll,
	}
}

// State returns the lifecycle state of source.
func (o *Orchestrator) State(source string) State {
	e, ok := o.reg.Lookup(source)

	switch {
	case !ok:
		return StateUnknown
	case e.Active():
		return StateActive
	default:
		return StateInactive
	}
}

// IsShutdown reports whether Shutdown has run.
func (o *Orchestrator) IsShutdown() bool {
	return o.shutdown
}

// Bootstrap activates every entry loaded into the registry before the
// loop starts, queueing an initial full sync for each. Failures are
// reported per directory and do not stop the others. Returns the number
// of directories activated.
func (o *Orchestrator) Bootstrap() int {
	n := 0

	for _, e := range o.reg.All() {
		if e.Active() {
			continue
		}

		if err := o.Add(e.Source, e.Target); err != nil {
			o.logger.Warn("initial activation failed",
				slog.String("source", e.Source),
				slog.String("error", err.Error()),
			)

			continue
		}

		n++
	}

	o.logger.Info("bootstrap complete",
		slog.Int("activated", n),
		slog.Int("registered", o.reg.Len()),
	)

	return n
}

// Close stops every watch and releases the monitor. Work still queued
// or running is forgotten unless Shutdown drained it first.
func (o *Orchestrator) Close() error {
	if !o.drained {
		o.sched.Teardown()
	}

	return o.mon.Stop(o.reg)
}
