package subserver

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

// DaemonFanout is the no-socket subserver of spec §4.2: one goroutine
// per configured daemon (original_source/brim/server.py: "self.daemons"
// -- len(daemons) is the worker count, not a "workers" option), each
// repeatedly constructing-and-invoking its own handler. "If the handler
// returns or raises, the worker re-constructs and re-invokes," via the
// shared respawnLoop throttle.
type DaemonFanout struct {
	name     string
	daemons  []handler.DaemonHandler
	statsSet *stats.Set
	logger   zerolog.Logger
}

// DaemonFanoutConfig bundles a DaemonFanout subserver's construction
// parameters. Daemons[i] runs in bucket i of Stats.
type DaemonFanoutConfig struct {
	Name    string
	Daemons []handler.DaemonHandler
	Stats   *stats.Set
	Logger  zerolog.Logger
}

func NewDaemonFanout(cfg DaemonFanoutConfig) *DaemonFanout {
	return &DaemonFanout{
		name:     cfg.Name,
		daemons:  cfg.Daemons,
		statsSet: cfg.Stats,
		logger:   cfg.Logger,
	}
}

func (d *DaemonFanout) Name() string { return d.name }

func (d *DaemonFanout) Run(ctx context.Context) error {
	if len(d.daemons) == 0 {
		<-ctx.Done()
		return nil
	}
	errCh := make(chan error, len(d.daemons))
	for i, h := range d.daemons {
		bucket := i
		daemon := h
		go func() {
			view := viewFor(d.statsSet, bucket)
			errCh <- respawnLoop(ctx, d.logger, "did", bucket, func(ctx context.Context) error {
				return daemon.ServeDaemon(ctx, d.name, view)
			})
		}()
	}
	var firstErr error
	for range d.daemons {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
