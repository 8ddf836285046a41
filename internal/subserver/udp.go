package subserver

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

// UDP is the datagram subserver of spec §4.2: a single reader loop pulls
// datagrams off the shared socket and dispatches each to the configured
// handler in its own goroutine, admitted through a semaphore sized to
// concurrent_per_worker. UDP has no natural per-connection worker split
// the way TCP does (one socket, no accept), so WorkerCount only sizes
// the stats bucket grid that readLoop round-robins datagrams across.
type UDP struct {
	name        string
	conn        *net.UDPConn
	h           handler.UDPHandler
	workerCount int
	concurrency int64
	statsSet    *stats.Set
	counter     uint64
	logger      zerolog.Logger
}

// UDPConfig bundles a UDP subserver's construction parameters.
type UDPConfig struct {
	Name                string
	Conn                *net.UDPConn
	Handler             handler.UDPHandler
	WorkerCount         int
	ConcurrentPerWorker int
	Stats               *stats.Set
	Logger              zerolog.Logger
}

func NewUDP(cfg UDPConfig) *UDP {
	limit := int64(cfg.ConcurrentPerWorker)
	if limit <= 0 {
		limit = 1024
	}
	return &UDP{
		name:        cfg.Name,
		conn:        cfg.Conn,
		h:           cfg.Handler,
		workerCount: cfg.WorkerCount,
		concurrency: limit,
		statsSet:    cfg.Stats,
		logger:      cfg.Logger,
	}
}

func (u *UDP) Name() string { return u.name }

func (u *UDP) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = u.conn.Close()
	}()
	return respawnLoop(ctx, u.logger, "uid", 0, u.readLoop)
}

func (u *UDP) readLoop(ctx context.Context) error {
	sem := semaphore.NewWeighted(u.concurrency)
	buf := make([]byte, 65536)
	for {
		n, remoteAddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		u.counter++
		bucket := bucketOf(u.counter, u.workerCount)
		view := viewFor(u.statsSet, bucket)

		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		go func(dg []byte, addr *net.UDPAddr) {
			defer sem.Release(1)
			u.h.ServeUDP(ctx, u.name, view, u.conn, dg, addr)
		}(datagram, remoteAddr)
	}
}
