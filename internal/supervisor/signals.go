package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// WithSignals derives a context from parent that is canceled on
// SIGHUP, SIGTERM, or SIGINT (spec §4.1 signal discipline). In this
// repository's one-process model (SPEC_FULL.md §0) "forward the signal
// to the whole process group" collapses to "cancel the one context
// every subserver selects on" -- there is no separate process group to
// signal. SIGINT behaves like SIGTERM, per spec.
func WithSignals(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-ch:
			switch sig {
			case syscall.SIGHUP:
				logger.Info().Msg("SIGHUP received: graceful shutdown, draining in-flight work")
			default:
				logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
