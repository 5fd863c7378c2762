// Package monitor watches registered source directories and turns raw
// filesystem-change records into sync tasks.
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"syscall"

	"github.com/tonimelisma/dirsync/internal/registry"
	"github.com/tonimelisma/dirsync/internal/report"
	"github.com/tonimelisma/dirsync/internal/scheduler"
)

// Backend names accepted by Start.
const (
	BackendAuto     = "auto"
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrWatchLimit     = errors.New("monitor: watch limit reached")
	ErrUnsupported    = errors.New("monitor: backend not supported on this platform")
	ErrUnknownBackend = errors.New("monitor: unknown backend")
)

// Op is a bitmask of change kinds carried by a Record.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpModify
	OpDelete
	OpIsDir
)

// Record is one decoded change notification.
type Record struct {
	Handle int
	Op     Op
	Name   string
}

// Source is a watch subsystem. Ready receives a value whenever Read may
// return records; Read never blocks.
type Source interface {
	Add(dir string) (int, error)
	Remove(handle int) error
	Ready() <-chan struct{}
	Read() ([]Record, error)
	Close() error
}

// Enqueuer accepts tasks produced from change records.
type Enqueuer interface {
	Enqueue(task scheduler.Task, dedupe bool) bool
}

// WatchError reports a failure to start watching a directory.
type WatchError struct {
	Dir string
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("monitor: watching %s: %v", e.Dir, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

// Monitor wraps a Source with registry-aware draining.
type Monitor struct {
	src    Source
	logger *slog.Logger
}

// Start initializes the named backend. BackendAuto selects inotify on Linux
// and fsnotify elsewhere.
func Start(backend string, logger *slog.Logger) (*Monitor, error) {
	if backend == "" || backend == BackendAuto {
		backend = BackendFsnotify
		if runtime.GOOS == "linux" {
			backend = BackendInotify
		}
	}

	var (
		src Source
		err error
	)

	switch backend {
	case BackendInotify:
		src, err = newInotifySource(logger)
	case BackendFsnotify:
		src, err = newFsnotifySource(logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}

	if err != nil {
		return nil, fmt.Errorf("monitor: starting %s backend: %w", backend, err)
	}

	logger.Debug("monitor started", slog.String("backend", backend))

	return New(src, logger), nil
}

// New wraps an existing Source.
func New(src Source, logger *slog.Logger) *Monitor {
	return &Monitor{src: src, logger: logger}
}

// Watch starts watching dir for create, modify and delete events.
func (m *Monitor) Watch(dir string) (int, error) {
	h, err := m.src.Add(dir)
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			err = fmt.Errorf("%w: %w", ErrWatchLimit, err)
		}

		return registry.NoWatch, &WatchError{Dir: dir, Err: err}
	}

	return h, nil
}

// Unwatch stops the watch identified by handle.
func (m *Monitor) Unwatch(handle int) error {
	if err := m.src.Remove(handle); err != nil {
		return fmt.Errorf("monitor: removing watch %d: %w", handle, err)
	}

	return nil
}

// Ready signals that Drain has records to process.
func (m *Monitor) Ready() <-chan struct{} {
	return m.src.Ready()
}

// Drain reads every currently available record and enqueues one task per
// non-directory record whose handle belongs to a registry entry. Returns
// the number of tasks enqueued.
func (m *Monitor) Drain(reg *registry.Registry, q Enqueuer) int {
	records, err := m.src.Read()
	if err != nil {
		m.logger.Warn("reading change records", slog.String("error", err.Error()))
	}

	n := 0

	for _, rec := range records {
		if rec.Op&OpIsDir != 0 {
			continue
		}

		op, ok := Classify(rec.Op)
		if !ok {
			continue
		}

		entry, ok := reg.FindByWatch(rec.Handle)
		if !ok {
			continue
		}

		m.logger.Debug("change detected",
			slog.String("source", entry.Source),
			slog.String("name", rec.Name),
			slog.String("op", op.String()),
		)

		q.Enqueue(scheduler.Task{
			Source:   entry.Source,
			Target:   entry.Target,
			Filename: rec.Name,
			Op:       op,
		}, false)

		n++
	}

	return n
}

// Stop unwatches every Active entry and releases the watch subsystem.
func (m *Monitor) Stop(reg *registry.Registry) error {
	var errs []error

	for _, e := range reg.All() {
		if !e.Active() {
			continue
		}

		if err := m.src.Remove(e.Watch); err != nil {
			errs = append(errs, fmt.Errorf("monitor: removing watch for %s: %w", e.Source, err))
		}

		if err := reg.ClearWatch(e.Source); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("monitor: closing: %w", err))
	}

	return errors.Join(errs...)
}

// Classify maps a record's change bits to a task operation. Created takes
// precedence over Modified, which takes precedence over Deleted.
func Classify(op Op) (report.Op, bool) {
	switch {
	case op&OpCreate != 0:
		return report.OpCreated, true
	case op&OpModify != 0:
		return report.OpModified, true
	case op&OpDelete != 0:
		return report.OpDeleted, true
	default:
		return 0, false
	}
}
