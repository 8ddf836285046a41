// Package subserver implements the four subserver kinds of spec §4.2 --
// WSGI, TCP, UDP, Daemons -- as goroutine worker pools, per the process
// model translation of SPEC_FULL.md §0: each subserver's "workers" are
// goroutines admitted through a golang.org/x/sync/semaphore budget
// (concurrent_per_worker) rather than forked OS processes, supervised
// by a golang.org/x/sync/errgroup so a worker that exits is respawned
// throttled to at most one respawn per second (spec §4.1's signal
// discipline bullet).
//
// Grounded on original_source/brim/server.py's Subserver/WorkerSubserver
// classes and service.py's sustain_workers.
package subserver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimdotnet/brimd/internal/logctx"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Runner is what every subserver kind implements: run until ctx is
// canceled, then return (nil on a clean shutdown).
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// respawnLoop invokes work repeatedly until ctx is canceled, throttling
// re-invocation to at most once per second after work returns (whether
// by error, plain return, or a recovered panic) -- the Go shape of
// sustain_workers' "throttled respawn" and spec §4.2's Daemons "always
// running" contract. A panic inside work is logged as spec §4.7's
// single-line "UNCAUGHT EXCEPTION" record instead of crashing the
// process, then treated like any other worker exit.
func respawnLoop(ctx context.Context, logger zerolog.Logger, role string, id int, work func(ctx context.Context) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		err := callWorker(role, id, ctx, work)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Error().Err(err).Msgf("%s worker exited, respawning", role)
		}
		if elapsed := time.Since(start); elapsed < time.Second {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second - elapsed):
			}
		}
	}
}

// callWorker runs work under logctx.RecoverUncaught so a panicking
// worker is logged (and reported back as an error, so respawnLoop's own
// "worker exited, respawning" line still fires) rather than taking down
// the process.
func callWorker(role string, id int, ctx context.Context, work func(ctx context.Context) error) (err error) {
	exited := false
	defer func() {
		if exited {
			err = fmt.Errorf("%s worker %d panicked", role, id)
		}
	}()
	defer logctx.RecoverUncaught(role, id, &exited)
	err = work(ctx)
	return err
}

// bucketOf returns a stable worker index for round-robin dispatch
// across a subserver's workerCount buckets, treating 0 (inline/debug
// mode, spec §3) as a single bucket 0.
func bucketOf(counter uint64, workerCount int) int {
	if workerCount <= 0 {
		return 0
	}
	return int(counter % uint64(workerCount))
}

// viewFor binds set to bucket, the per-worker stats.View handlers
// receive (spec §4.4).
func viewFor(set *stats.Set, bucket int) stats.View {
	return stats.NewView(set, bucket)
}
