package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/brimdotnet/brimd/internal/config"
	"github.com/brimdotnet/brimd/internal/privdrop"
)

// Supervisor runs one brimd process end to end: build (steps 1-4),
// privilege drop (step 5), stats allocation (folded into Build, see
// DESIGN.md), and the worker-pool-of-subservers loop (steps 8-9).
// Daemonizing (step 7) and the restart handoff are separate concerns
// (daemonize.go, handoff.go) invoked by cmd/brimd before Run.
type Supervisor struct {
	tree   *config.Tree
	logger zerolog.Logger
	built  *Built
}

// New performs spec §4.1 steps 3-6: instantiate every enumerated
// subserver, validate handler symbols, acquire listening sockets, drop
// privileges, and allocate the stats bucket sets. Any error here is
// step 1-6 failure semantics (spec §7): fatal, before any externally
// visible state change beyond the now-acquired (but not yet serving)
// listening sockets.
func New(ctx context.Context, tree *config.Tree, logger zerolog.Logger) (*Supervisor, error) {
	built, err := Build(ctx, tree, logger)
	if err != nil {
		return nil, err
	}

	user := tree.Get("brim", "user", "")
	group := tree.Get("brim", "group", "")
	umaskStr := tree.Get("brim", "umask", "0022")
	umask, err := parseOctal(umaskStr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: [brim] umask %q: %w", umaskStr, err)
	}
	if err := privdrop.Drop(privdrop.Config{User: user, Group: group, Umask: umask}); err != nil {
		return nil, err
	}

	return &Supervisor{tree: tree, logger: logger, built: built}, nil
}

func parseOctal(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%o", &n)
	return n, err
}

// Run executes spec §4.1 steps 8-9: run every subserver concurrently,
// re-spawning any that exits on its own (the respawnLoop throttle
// inside each subserver.Runner already does this for its internal
// workers; here an errgroup supervises the subserver Runners
// themselves, which is the literal Go shape of "the supervisor itself
// also runs a worker-pool loop over the subservers"). Run blocks until
// ctx is canceled; a subserver that returns before then is logged and
// run again, at most once per second.
func (s *Supervisor) Run(ctx context.Context) error {
	s.built.MarkStarted()
	if len(s.built.Subservers) == 0 {
		s.logger.Warn().Msg("no subservers configured; idling until signaled")
		<-ctx.Done()
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range s.built.Subservers {
		runner := sub
		g.Go(func() error {
			for {
				start := time.Now()
				err := runner.Run(gctx)
				if gctx.Err() != nil {
					return nil
				}
				s.logger.Error().Err(err).Str("subserver", runner.Name()).Msg("subserver exited, respawning")
				if elapsed := time.Since(start); elapsed < time.Second {
					select {
					case <-gctx.Done():
						return nil
					case <-time.After(time.Second - elapsed):
					}
				}
			}
		})
	}
	return g.Wait()
}

// StartedAt reports when Run began, for the stats endpoint's
// "start_time" root field (spec §6); zero until Run has started.
func (s *Supervisor) StartedAt() time.Time { return s.built.startedAt }

// Built exposes the constructed subservers and stats sets, e.g. so
// cmd/brimd can wire an admin mux (metrics + stats JSON) alongside the
// configured subservers.
func (s *Supervisor) Built() *Built { return s.built }
