package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// errStopSignal is the cancellation cause recorded when a signal stops the
// daemon.
var errStopSignal = errors.New("stop signal received")

// shutdownContext returns a context canceled on the first SIGINT/SIGTERM.
// The daemon then drains its queue and waits for running workers; a second
// signal exits immediately without waiting.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("signal received, draining workers before exit",
				slog.String("signal", sig.String()),
			)
			cancel(errStopSignal)
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal received, exiting without waiting for workers",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
