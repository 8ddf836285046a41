// Package daemonsample is a bundled sample daemon handler that logs a
// status line on a configured interval, a starting point for other
// daemons. Grounded on original_source/brim/sample_daemon.py.
package daemonsample

import (
	"context"
	"strconv"
	"time"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/logctx"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Symbol is the registry call= value for this handler.
const Symbol = "daemonsample.Sample"

func init() {
	handler.Default.RegisterDaemon(Symbol, New)
	handler.Default.RegisterStatsDeclarer(Symbol, DeclareStats)
}

// Sample logs "<name> sample daemon log line <n>" every interval until
// ctx is canceled.
type Sample struct {
	name     string
	interval time.Duration
}

// New builds a Sample handler, the registered handler.DaemonFactory.
func New(name string, cfg handler.Config) (handler.DaemonHandler, error) {
	secs, err := strconv.Atoi(cfg.Get("interval", "60"))
	if err != nil || secs <= 0 {
		secs = 60
	}
	return &Sample{name: name, interval: time.Duration(secs) * time.Second}, nil
}

// DeclareStats registers the iterations/last_run worker stats Sample
// maintains.
func DeclareStats(name string, cfg handler.Config) []stats.Declaration {
	return []stats.Declaration{
		{Name: "iterations", Kind: stats.KindWorker},
		{Name: "last_run", Kind: stats.KindWorker},
	}
}

// ServeDaemon runs until ctx is canceled, per the Daemons subserver
// contract of spec §4.2 ("one worker per configured daemon... If the
// handler returns or raises, the worker re-constructs and
// re-invokes").
func (s *Sample) ServeDaemon(ctx context.Context, subserver string, view stats.View) error {
	logger := logctx.WithRole("did", 0)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	iteration := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			iteration++
			logger.Info().Msgf("%s sample daemon log line %d", s.name, iteration)
			view.Set("last_run", uint64(time.Now().Unix()))
			view.Set("iterations", iteration)
		}
	}
}
