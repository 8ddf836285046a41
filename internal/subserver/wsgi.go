package subserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/brimdotnet/brimd/internal/httpx"
	"github.com/brimdotnet/brimd/internal/pipeline"
	"github.com/brimdotnet/brimd/internal/stats"
)

// WSGI is the HTTP subserver of spec §4.2: it accepts connections on a
// shared listener, builds an Env per request, and invokes the composed
// middleware chain. Admission per worker bucket is capped by a
// semaphore sized to ConcurrentPerWorker.
type WSGI struct {
	name          string
	listener      net.Listener
	app           pipeline.App
	server        *http.Server
	workerCount   int
	sems          []*semaphore.Weighted
	counter       atomic.Uint64
	statsSet      *stats.Set
	statsSource   pipeline.StatsSource
	pipelineCfg   pipeline.Config
	clientTimeout time.Duration
	logger        zerolog.Logger
}

// WSGIConfig bundles a WSGI subserver's construction parameters.
type WSGIConfig struct {
	Name                string
	Listener            net.Listener
	App                 pipeline.App
	WorkerCount         int
	ConcurrentPerWorker int
	ClientTimeout       time.Duration
	Stats               *stats.Set
	StatsSource         pipeline.StatsSource
	Pipeline            pipeline.Config
	Logger              zerolog.Logger
}

// NewWSGI builds a WSGI subserver. WorkerCount 0 (inline/debug mode,
// spec §3) still serves traffic on a single logical bucket 0, whose
// stats operations silently no-op per spec §4.4.
func NewWSGI(cfg WSGIConfig) *WSGI {
	buckets := cfg.WorkerCount
	if buckets <= 0 {
		buckets = 1
	}
	sems := make([]*semaphore.Weighted, buckets)
	limit := int64(cfg.ConcurrentPerWorker)
	if limit <= 0 {
		limit = 1024
	}
	for i := range sems {
		sems[i] = semaphore.NewWeighted(limit)
	}
	w := &WSGI{
		name:          cfg.Name,
		listener:      cfg.Listener,
		app:           cfg.App,
		workerCount:   cfg.WorkerCount,
		sems:          sems,
		statsSet:      cfg.Stats,
		statsSource:   cfg.StatsSource,
		pipelineCfg:   cfg.Pipeline,
		clientTimeout: cfg.ClientTimeout,
		logger:        cfg.Logger,
	}
	w.server = &http.Server{
		Handler:      http.HandlerFunc(w.serveHTTP),
		ReadTimeout:  cfg.ClientTimeout,
		WriteTimeout: cfg.ClientTimeout,
	}
	return w
}

func (w *WSGI) Name() string { return w.name }

// SetStatsSource attaches the process-wide stats source once every
// subserver has been built (Build constructs subservers one at a time,
// before the full set of bucket sets -- and so the StatsSource they'd
// need to report -- exists).
func (w *WSGI) SetStatsSource(src pipeline.StatsSource) { w.statsSource = src }

// Run serves until ctx is canceled, then shuts down gracefully (spec
// §4.1's SIGHUP "stop accepting, let in-flight work drain").
func (w *WSGI) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- w.server.Serve(w.listener) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = w.server.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (w *WSGI) serveHTTP(rw http.ResponseWriter, r *http.Request) {
	bucket := bucketOf(w.counter.Add(1), w.workerCount)
	sem := w.sems[bucket]
	if err := sem.Acquire(r.Context(), 1); err != nil {
		httpx.NewError(http.StatusServiceUnavailable, "", nil).WriteTo(rw, r.Method)
		return
	}
	defer sem.Release(1)

	view := viewFor(w.statsSet, bucket)
	env, r := pipeline.NewEnv(r, view, w.logger)
	env.StatsSource = w.statsSource
	pipeline.Run(env, w.app, rw, r, w.pipelineCfg)
}
