// Package tcpecho is a bundled sample TCP handler that echoes incoming
// data back, a starting point for other TCP handlers.
//
// Grounded on original_source/brim/tcp_echo.py.
package tcpecho

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Symbol is the registry call= value for this handler.
const Symbol = "tcpecho.Echo"

func init() {
	handler.Default.RegisterTCP(Symbol, New)
	handler.Default.RegisterStatsDeclarer(Symbol, DeclareStats)
}

// Echo reads up to chunkRead bytes at a time and writes them straight
// back until the client closes the connection.
type Echo struct {
	chunkRead int
}

// New builds an Echo handler, the registered handler.TCPFactory.
func New(name string, cfg handler.Config) (handler.TCPHandler, error) {
	chunkRead, err := strconv.Atoi(cfg.Get("chunk_read", "65536"))
	if err != nil {
		chunkRead = 65536
	}
	return &Echo{chunkRead: chunkRead}, nil
}

// DeclareStats registers the byte_count sum stat Echo maintains.
func DeclareStats(name string, cfg handler.Config) []stats.Declaration {
	return []stats.Declaration{{Name: "byte_count", Kind: stats.KindSum}}
}

func (e *Echo) ServeTCP(ctx context.Context, subserver string, view stats.View, conn net.Conn, remoteIP string, remotePort int) {
	defer conn.Close()
	buf := make([]byte, e.chunkRead)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			view.IncrBy("byte_count", uint64(n))
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return
			}
			return
		}
	}
}
