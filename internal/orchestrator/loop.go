package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Tick runs the scheduler half of one loop iteration: reap exited workers
// if the child-exit flag is set, start queued tasks, and collect worker
// output.
func (o *Orchestrator) Tick(ctx context.Context) {
	if n := o.sched.Reap(ctx); n > 0 {
		o.logger.Debug("reaped workers", slog.Int("count", n))
	}

	o.sched.Pump()
	o.sched.Collect()
}

// Run is the control loop. Each iteration drives the scheduler, then waits
// up to the poll interval for an inbound command, a monitor event or a
// worker exit. It returns after a shutdown command, or after a cooperative
// shutdown once ctx is canceled. A closed lines channel only disables
// command input.
func (o *Orchestrator) Run(ctx context.Context, lines <-chan string) error {
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	o.logger.Info("control loop started", slog.Duration("poll_interval", o.poll))

	for {
		if stop, err := o.step(ctx, &lines, ticker.C); stop {
			return err
		}
	}
}

// step is one loop iteration. A closed lines channel is replaced by nil so
// later iterations stop selecting on it.
func (o *Orchestrator) step(ctx context.Context, lines *<-chan string, tick <-chan time.Time) (bool, error) {
	o.Tick(ctx)

	select {
	case <-ctx.Done():
		o.logger.Info("stop requested", slog.String("reason", context.Cause(ctx).Error()))

		return true, o.Shutdown(context.WithoutCancel(ctx))

	case line, ok := <-*lines:
		if !ok {
			o.logger.Warn("control channel closed, no further commands will be read")
			*lines = nil

			return false, nil
		}

		stop, _ := o.Dispatch(ctx, line)

		return stop, nil

	case <-o.mon.Ready():
		if n := o.mon.Drain(o.reg, o.sched); n > 0 {
			o.logger.Debug("queued change tasks", slog.Int("count", n))
		}

	case <-o.sched.Exited():
	case <-tick:
	}

	return false, nil
}
