// Package scheduler runs sync tasks in a bounded pool of worker
// subprocesses. Tasks start in strict FIFO order; completions are handled
// in whatever order workers exit.
//
// All methods must be called from the single goroutine that owns the
// scheduler. The only concurrent piece is the child-exit flag, set from a
// signal goroutine and swap-cleared by Reap.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tonimelisma/dirsync/internal/history"
	"github.com/tonimelisma/dirsync/internal/notify"
	"github.com/tonimelisma/dirsync/internal/registry"
	"github.com/tonimelisma/dirsync/internal/report"
)

const (
	// collectWindow bounds how long Collect waits on one worker's pipe.
	collectWindow = time.Millisecond

	// drainPause is the sleep between rounds in DrainAll.
	drainPause = 100 * time.Millisecond
)

// Recorder persists completions. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Config wires a Scheduler. History may be nil.
type Config struct {
	WorkerLimit int
	Spawner     Spawner
	Registry    *registry.Registry
	Sink        *notify.Sink
	History     Recorder
	Logger      *slog.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Active int
	Queued int
	Limit  int
}

// Worker is a running task and the output captured from it so far.
type Worker struct {
	Task    Task
	proc    Process
	out     bytes.Buffer
	eof     bool
	started time.Time
}

// Scheduler owns the task queue and the active worker set.
type Scheduler struct {
	limit   int
	spawner Spawner
	reg     *registry.Registry
	sink    *notify.Sink
	hist    Recorder
	logger  *slog.Logger

	queue  []Task
	active []*Worker

	exited atomic.Bool
	wake   chan struct{}
}

// New creates a Scheduler. A WorkerLimit below 1 is treated as 1.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		limit:   max(cfg.WorkerLimit, 1),
		spawner: cfg.Spawner,
		reg:     cfg.Registry,
		sink:    cfg.Sink,
		hist:    cfg.History,
		logger:  cfg.Logger,
		wake:    make(chan struct{}, 1),
	}
}

// WatchChildren subscribes to SIGCHLD and sets the child-exit flag on
// each delivery. The returned func unsubscribes.
func (s *Scheduler) WatchChildren() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCHLD)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				s.NotifyExit()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// NotifyExit sets the child-exit flag. Safe to call from any goroutine.
func (s *Scheduler) NotifyExit() {
	s.exited.Store(true)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Exited receives a value after NotifyExit, so an event loop can wake up
// for Reap instead of waiting for its next timer tick.
func (s *Scheduler) Exited() <-chan struct{} {
	return s.wake
}

// Enqueue appends task to the queue. With dedupe set, the task is refused
// when any queued or running task has the same source.
func (s *Scheduler) Enqueue(task Task, dedupe bool) bool {
	if dedupe && s.IsQueuedOrRunning(task.Source) {
		return false
	}

	s.queue = append(s.queue, task)

	return true
}

// IsQueuedOrRunning reports whether any task for source is active or queued.
func (s *Scheduler) IsQueuedOrRunning(source string) bool {
	for _, w := range s.active {
		if w.Task.Source == source {
			return true
		}
	}

	for _, t := range s.queue {
		if t.Source == source {
			return true
		}
	}

	return false
}

// Pump starts queued tasks until the queue is empty or the pool is full.
// A task whose worker cannot be spawned is dropped. Returns the number of
// workers started.
func (s *Scheduler) Pump() int {
	started := 0

	for len(s.queue) > 0 && len(s.active) < s.limit {
		task := s.queue[0]
		s.queue[0] = Task{}
		s.queue = s.queue[1:]

		proc, err := s.spawner.Spawn(task)
		if err != nil {
			serr := &SpawnError{Task: task, Err: err}
			s.logger.Error("dropping task", slog.String("error", serr.Error()))
			s.sink.Notify(notify.Log, "Failed to start worker for %s: %v", task.Source, err)

			continue
		}

		s.active = append(s.active, &Worker{Task: task, proc: proc, started: s.sink.Now()})
		started++

		s.logger.Debug("worker started",
			slog.Int("pid", proc.Pid()),
			slog.String("source", task.Source),
			slog.String("op", task.Op.String()),
			slog.String("file", task.Filename),
		)
	}

	return started
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Collect moves whatever output each worker has produced into its buffer
// without blocking the caller for more than a moment per worker.
func (s *Scheduler) Collect() {
	for _, w := range s.active {
		if w.eof {
			continue
		}

		out := w.proc.Output()
		if d, ok := out.(readDeadliner); ok {
			if err := d.SetReadDeadline(time.Now().Add(collectWindow)); err != nil {
				continue
			}
		}

		_, err := w.out.ReadFrom(out)

		switch {
		case err == nil:
			w.eof = true
		case errors.Is(err, os.ErrDeadlineExceeded):
		default:
			s.logger.Debug("reading worker output",
				slog.Int("pid", w.proc.Pid()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Reap finalizes every exited worker, but only if the child-exit flag was
// set since the last call. Returns the number of workers reaped.
func (s *Scheduler) Reap(ctx context.Context) int {
	if !s.exited.Swap(false) {
		return 0
	}

	return s.reapExited(ctx)
}

func (s *Scheduler) reapExited(ctx context.Context) int {
	reaped := 0

	for i := 0; i < len(s.active); {
		w := s.active[i]

		exited, code, err := w.proc.Poll()
		if err != nil {
			s.logger.Warn("polling worker", slog.Int("pid", w.proc.Pid()), slog.String("error", err.Error()))
		}

		if !exited {
			i++
			continue
		}

		s.finish(ctx, w, code)
		s.active = slices.Delete(s.active, i, i+1)
		reaped++
	}

	return reaped
}

func (s *Scheduler) finish(ctx context.Context, w *Worker, code int) {
	pid := w.proc.Pid()
	task := w.Task

	if !w.eof {
		out := w.proc.Output()
		if d, ok := out.(readDeadliner); ok {
			_ = d.SetReadDeadline(time.Time{})
		}

		if _, err := w.out.ReadFrom(out); err != nil {
			s.logger.Warn("draining worker output", slog.Int("pid", pid), slog.String("error", err.Error()))
		}
	}

	if err := w.proc.Close(); err != nil {
		s.logger.Debug("closing worker", slog.Int("pid", pid), slog.String("error", err.Error()))
	}

	rep, ok := report.Parse(w.out.Bytes())
	if !ok {
		rep = report.Report{
			Status: report.StatusError,
			Errors: []string{fmt.Sprintf("worker exited without a report (exit code %d)", code)},
		}
	}

	errCount := len(rep.Errors)
	now := s.sink.Now()

	if err := s.reg.RecordCompletion(task.Source, now, errCount); err != nil {
		s.logger.Warn("recording completion", slog.String("source", task.Source), slog.String("error", err.Error()))
	}

	b := s.sink.NewBuffer()

	switch task.Op {
	case report.OpFullSync:
		b.LineAt(now, "Full sync completed %s -> %s Errors:%d", task.Source, task.Target, errCount)
	case report.OpSyncRequest:
		b.LineAt(now, "Sync completed %s -> %s Errors:%d", task.Source, task.Target, errCount)
	}

	s.sink.Forward(notify.Both, b)
	s.sink.Raw(notify.Log, fmt.Sprintf("[%s] [%s] [%s] [%d] [%s] [%s] [%s]\n",
		notify.Stamp(now), task.Source, task.Target, pid, task.Op, rep.Status, completionDetail(task, rep)))

	s.logger.Info("worker finished",
		slog.Int("pid", pid),
		slog.String("source", task.Source),
		slog.String("op", task.Op.String()),
		slog.String("status", string(rep.Status)),
		slog.Int("errors", errCount),
		slog.Duration("elapsed", now.Sub(w.started)),
	)

	if s.hist == nil {
		return
	}

	if err := s.hist.Record(ctx, history.Record{
		Source:     task.Source,
		Target:     task.Target,
		Filename:   task.Filename,
		Op:         task.Op.String(),
		Pid:        pid,
		ExitCode:   code,
		Status:     string(rep.Status),
		Details:    rep.Details,
		Errors:     rep.Errors,
		FinishedAt: now,
	}); err != nil {
		s.logger.Warn("writing completion history", slog.String("error", err.Error()))
	}
}

// completionDetail is the last field of a completion log line.
func completionDetail(task Task, rep report.Report) string {
	if !task.Op.WholeDirectory() && len(rep.Errors) > 0 {
		return rep.Errors[0]
	}

	return rep.Details
}

// WaitActive blocks until every running worker has been reaped. Queued
// tasks are not started.
func (s *Scheduler) WaitActive(ctx context.Context) {
	for {
		s.Collect()
		s.exited.Store(false)
		s.reapExited(ctx)

		if len(s.active) == 0 {
			return
		}

		time.Sleep(drainPause)
	}
}

// DrainAll runs every queued task to completion. It is used at shutdown
// and does not return until the queue and the active set are both empty.
func (s *Scheduler) DrainAll(ctx context.Context) {
	for {
		s.Pump()
		s.Collect()
		s.exited.Store(false)
		s.reapExited(ctx)

		if len(s.queue) == 0 && len(s.active) == 0 {
			return
		}

		time.Sleep(drainPause)
	}
}

// Teardown forgets all queued and active work without waiting for it.
func (s *Scheduler) Teardown() {
	for _, w := range s.active {
		if err := w.proc.Close(); err != nil {
			s.logger.Debug("closing worker", slog.Int("pid", w.proc.Pid()), slog.String("error", err.Error()))
		}
	}

	s.active = nil
	s.queue = nil
}

// Stats returns active and queued counts.
func (s *Scheduler) Stats() Stats {
	return Stats{Active: len(s.active), Queued: len(s.queue), Limit: s.limit}
}

// Queued returns a copy of the pending tasks in start order.
func (s *Scheduler) Queued() []Task {
	return slices.Clone(s.queue)
}

// Running returns the tasks of the active workers in start order.
func (s *Scheduler) Running() []Task {
	out := make([]Task, 0, len(s.active))
	for _, w := range s.active {
		out = append(out, w.Task)
	}

	return out
}

// Output returns the output captured so far from the running worker at
// index i. Intended for diagnostics and tests.
func (s *Scheduler) Output(i int) []byte {
	if i < 0 || i >= len(s.active) {
		return nil
	}

	return slices.Clone(s.active[i].out.Bytes())
}
