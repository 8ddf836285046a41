package subserver

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

// TCP is the raw-socket subserver of spec §4.2: WorkerCount goroutines
// each accept from the shared listener (Go's net.Listener.Accept is
// safe to call concurrently; the kernel load-balances across callers
// exactly as it would across forked workers sharing a listening fd),
// handing each connection to the configured handler in a fresh
// goroutine admitted through that worker's concurrent_per_worker
// semaphore.
type TCP struct {
	name        string
	listener    net.Listener
	h           handler.TCPHandler
	workerCount int
	concurrency int64
	statsSet    *stats.Set
	logger      zerolog.Logger
}

// TCPConfig bundles a TCP subserver's construction parameters.
type TCPConfig struct {
	Name                string
	Listener            net.Listener
	Handler             handler.TCPHandler
	WorkerCount         int
	ConcurrentPerWorker int
	Stats               *stats.Set
	Logger              zerolog.Logger
}

func NewTCP(cfg TCPConfig) *TCP {
	limit := int64(cfg.ConcurrentPerWorker)
	if limit <= 0 {
		limit = 1024
	}
	return &TCP{
		name:        cfg.Name,
		listener:    cfg.Listener,
		h:           cfg.Handler,
		workerCount: cfg.WorkerCount,
		concurrency: limit,
		statsSet:    cfg.Stats,
		logger:      cfg.Logger,
	}
}

func (t *TCP) Name() string { return t.name }

func (t *TCP) Run(ctx context.Context) error {
	buckets := t.workerCount
	if buckets <= 0 {
		buckets = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < buckets; i++ {
		bucket := i
		g.Go(func() error {
			return respawnLoop(gctx, t.logger, "tid", bucket, func(ctx context.Context) error {
				return t.acceptLoop(ctx, bucket)
			})
		})
	}
	go func() {
		<-ctx.Done()
		_ = t.listener.Close()
	}()
	return g.Wait()
}

func (t *TCP) acceptLoop(ctx context.Context, bucket int) error {
	sem := semaphore.NewWeighted(t.concurrency)
	view := viewFor(t.statsSet, bucket)
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			return nil
		}
		go func(c net.Conn) {
			defer sem.Release(1)
			remoteIP, remotePort := splitHostPort(c.RemoteAddr())
			t.h.ServeTCP(ctx, t.name, view, c, remoteIP, remotePort)
		}(conn)
	}
}

func splitHostPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}
