// Package udpecho is a bundled sample UDP handler that echoes incoming
// datagrams back to their sender.
//
// Grounded on original_source/brim/udp_echo.py.
package udpecho

import (
	"context"
	"net"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Symbol is the registry call= value for this handler.
const Symbol = "udpecho.Echo"

func init() {
	handler.Default.RegisterUDP(Symbol, New)
	handler.Default.RegisterStatsDeclarer(Symbol, DeclareStats)
}

// Echo sends each received datagram straight back to its sender.
type Echo struct{}

// New builds an Echo handler, the registered handler.UDPFactory.
func New(name string, cfg handler.Config) (handler.UDPHandler, error) {
	return &Echo{}, nil
}

// DeclareStats registers the byte_count sum stat Echo maintains.
func DeclareStats(name string, cfg handler.Config) []stats.Declaration {
	return []stats.Declaration{{Name: "byte_count", Kind: stats.KindSum}}
}

func (e *Echo) ServeUDP(ctx context.Context, subserver string, view stats.View, conn *net.UDPConn, datagram []byte, remoteAddr *net.UDPAddr) {
	view.IncrBy("byte_count", uint64(len(datagram)))
	_, _ = conn.WriteToUDP(datagram, remoteAddr)
}
