package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/dirsync/internal/notify"
	"github.com/tonimelisma/dirsync/internal/registry"
	"github.com/tonimelisma/dirsync/internal/report"
	"github.com/tonimelisma/dirsync/internal/scheduler"
)

// entrySeparator follows each entry in the "status all" dump.
const entrySeparator = "----------------------------------------\n"

// Add registers source -> target and starts monitoring it with an initial
// full sync. An empty target reactivates an Inactive entry with its stored
// target instead (see Reactivate). Refused with ErrAlreadyQueued when the
// source is Active or was registered with a different target.
func (o *Orchestrator) Add(source, target string) error {
	if o.shutdown {
		return ErrShutdown
	}

	if target == "" {
		return o.Reactivate(source)
	}

	e, ok := o.reg.Lookup(source)
	if ok && (e.Active() || e.Target != target) {
		o.refuse("Already in queue: %s", source)
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, source)
	}

	if !ok {
		var err error
		if e, err = o.reg.Add(source, target); err != nil {
			return err
		}
	}

	return o.activate(e, report.OpFullSync)
}

// Reactivate moves an Inactive entry back to Active using its stored
// target and queues a sync request. The completion message of a
// reactivation differs from that of a first full sync.
func (o *Orchestrator) Reactivate(source string) error {
	if o.shutdown {
		return ErrShutdown
	}

	e, ok := o.reg.Lookup(source)
	if !ok {
		o.refuse("Directory not monitored: %s", source)
		return fmt.Errorf("%w: %s", ErrNotMonitored, source)
	}

	if e.Active() {
		o.refuse("Already in queue: %s", source)
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, source)
	}

	return o.activate(e, report.OpSyncRequest)
}

// activate watches an Inactive entry and queues op for it. A watch failure
// leaves the entry Inactive.
func (o *Orchestrator) activate(e *registry.Entry, op report.Op) error {
	handle, err := o.mon.Watch(e.Source)
	if err != nil {
		o.logger.Warn("watch failed", slog.String("source", e.Source), slog.String("error", err.Error()))
		o.refuse("Failed to set up monitoring for %s", e.Source)

		return err
	}

	if err := o.reg.SetWatch(e.Source, handle); err != nil {
		return err
	}

	b := o.sink.NewBuffer()
	b.Linef("Added directory: %s -> %s", e.Source, e.Target)
	b.Linef("Monitoring started for %s", e.Source)
	o.sink.Forward(notify.Both, b)

	o.sched.Enqueue(scheduler.Task{Source: e.Source, Target: e.Target, Op: op}, false)

	o.logger.Info("directory activated",
		slog.String("source", e.Source),
		slog.String("target", e.Target),
		slog.Int("watch", handle),
		slog.String("op", op.String()),
	)

	return nil
}

// Cancel stops monitoring an Active source. Refused while any task for the
// source is queued or running.
func (o *Orchestrator) Cancel(source string) error {
	if o.shutdown {
		return ErrShutdown
	}

	e, ok := o.reg.Lookup(source)
	if !ok || !e.Active() {
		o.refuse("Directory not monitored: %s", source)
		return fmt.Errorf("%w: %s", ErrNotMonitored, source)
	}

	if o.sched.IsQueuedOrRunning(source) {
		o.refuse("Directory is currently being synced: %s", source)
		return fmt.Errorf("%w: %s", ErrBusy, source)
	}

	if err := o.mon.Unwatch(e.Watch); err != nil {
		o.logger.Warn("unwatch failed", slog.String("source", source), slog.String("error", err.Error()))
		o.refuse("Failed to stop monitoring for %s", source)

		return err
	}

	if err := o.reg.ClearWatch(source); err != nil {
		return err
	}

	o.sink.Notify(notify.Both, "Monitoring stopped for %s", source)
	o.logger.Info("directory deactivated", slog.String("source", source))

	return nil
}

// Sync queues a whole-directory sync request for source. An Inactive
// source is reactivated, which queues the request itself. For an Active
// source the request is refused with ErrSyncInProgress while any task for
// the source is queued or running.
func (o *Orchestrator) Sync(source string) error {
	if o.shutdown {
		return ErrShutdown
	}

	e, ok := o.reg.Lookup(source)
	if !ok {
		o.refuse("Directory not monitored: %s", source)
		return fmt.Errorf("%w: %s", ErrNotMonitored, source)
	}

	if !e.Active() {
		if err := o.Reactivate(source); err != nil {
			return err
		}

		o.sink.Notify(notify.Both, "Syncing directory: %s -> %s", source, e.Target)

		return nil
	}

	task := scheduler.Task{Source: source, Target: e.Target, Op: report.OpSyncRequest}
	if !o.sched.Enqueue(task, true) {
		o.refuse("Sync already in progress %s", source)
		return fmt.Errorf("%w: %s", ErrSyncInProgress, source)
	}

	o.sink.Notify(notify.Both, "Syncing directory: %s -> %s", source, e.Target)
	o.logger.Info("sync requested", slog.String("source", source))

	return nil
}

// Delete forgets an Inactive source.
func (o *Orchestrator) Delete(source string) error {
	if o.shutdown {
		return ErrShutdown
	}

	e, ok := o.reg.Lookup(source)
	if !ok {
		o.refuse("Directory not monitored: %s", source)
		return fmt.Errorf("%w: %s", ErrNotMonitored, source)
	}

	if e.Active() {
		o.refuse("Active directory cannot be deleted: %s", source)
		return fmt.Errorf("%w: %s", ErrActive, source)
	}

	if err := o.reg.Remove(source); err != nil {
		return err
	}

	o.sink.Notify(notify.Both, "Directory deleted: %s", source)
	o.logger.Info("directory deleted", slog.String("source", source))

	return nil
}

// Status writes the status block of source to the interactive sink. The
// source name "all" dumps every entry.
func (o *Orchestrator) Status(source string) error {
	if o.shutdown {
		return ErrShutdown
	}

	if source == "all" {
		o.statusAll()
		return nil
	}

	e, ok := o.reg.Lookup(source)
	if !ok {
		o.refuse("Directory not monitored: %s", source)
		return fmt.Errorf("%w: %s", ErrNotMonitored, source)
	}

	b := o.sink.NewBuffer()
	b.Linef("Status requested for %s", source)
	b.WriteString(e.Describe())
	o.sink.Forward(notify.Console, b)

	return nil
}

func (o *Orchestrator) statusAll() {
	b := o.sink.NewBuffer()
	b.Linef("Status requested for all")

	entries := o.reg.All()
	if len(entries) == 0 {
		b.WriteString("No directories configured for monitoring.\n")
	}

	for _, e := range entries {
		b.WriteString(e.Describe())
		b.WriteString(entrySeparator)
	}

	stats := o.sched.Stats()
	b.WriteString(fmt.Sprintf("Workers: %d/%d active, %d queued\n", stats.Active, stats.Limit, stats.Queued))

	o.sink.Forward(notify.Console, b)
}

// Shutdown waits for the running workers, runs every queued task to
// completion and marks the orchestrator terminal. Workers are never
// killed. Further commands fail with ErrShutdown.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.shutdown {
		return ErrShutdown
	}

	o.shutdown = true
	o.logger.Info("shutting down", slog.Int("active", o.sched.Stats().Active), slog.Int("queued", o.sched.Stats().Queued))
	o.sink.Notify(notify.Log, "Shutting down manager...")

	o.sink.Notify(notify.Both, "Waiting for all active workers to finish.")
	o.sched.WaitActive(ctx)

	o.sink.Notify(notify.Both, "Processing remaining queued tasks.")
	o.sched.DrainAll(ctx)
	o.drained = true

	o.sink.Notify(notify.Console, "Manager shutdown complete.")
	o.logger.Info("shutdown complete")

	return nil
}

// refuse reports a failed command on the interactive sink only.
func (o *Orchestrator) refuse(format string, args ...any) {
	o.sink.Notify(notify.Console, format, args...)
}
