// Package listener acquires TCP/UDP listening sockets with the
// handoff-friendly retry behavior of spec §4.6: bind, retrying on
// EADDRINUSE with a 100ms backoff until retry-seconds elapse, address
// family autodetect, and optional TLS wrapping for TCP.
//
// Grounded on original_source/brim/service.py's get_listening_tcp_socket
// and get_listening_udp_socket.
package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Config describes one listening endpoint.
type Config struct {
	IP        string // "*" or "" means 0.0.0.0
	Port      int
	Backlog   int // accepted and parse-time validated (spec §4.2); see below
	RetrySecs int // default 30
	CertFile  string
	KeyFile   string

	TCPKeepIdle time.Duration // default 600s, TCP only
}

// Backlog is carried through from config for parse-time numeric
// validation only: Go's net package picks the listen(2) backlog itself
// (capped at the kernel's somaxconn) and exposes no hook to override it
// -- unlike SO_REUSEADDR/SO_KEEPALIVE, which ListenConfig.Control can
// still set on the raw fd before bind.

const retryBackoff = 100 * time.Millisecond

func normalizeIP(ip string) string {
	if ip == "" || ip == "*" {
		return "0.0.0.0"
	}
	return ip
}

// ListenTCP binds, autodetecting the address family by resolving the
// host first (spec: "Resolve address family by looking up the first
// AF_INET or AF_INET6 result"), retries EADDRINUSE until RetrySecs
// elapses, and TLS-wraps the result if CertFile/KeyFile are set.
func ListenTCP(ctx context.Context, cfg Config) (net.Listener, error) {
	ip := normalizeIP(cfg.IP)
	network, err := addressFamily(ip, "tcp")
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
				idle := cfg.TCPKeepIdle
				if idle == 0 {
					idle = 600 * time.Second
				}
				ctrlErr = setTCPKeepIdle(int(fd), idle)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	addr := fmt.Sprintf("%s:%d", ip, cfg.Port)
	ln, err := retryBind(ctx, cfg.RetrySecs, func() (net.Listener, error) {
		return lc.Listen(ctx, network, addr)
	})
	if err != nil {
		return nil, err
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("listener: loading TLS cert/key: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	return ln, nil
}

// ListenUDP binds a UDP socket with the same retry/autodetect behavior,
// no TLS (spec §4.6: "cert+key are supplied (TCP only)").
func ListenUDP(ctx context.Context, cfg Config) (*net.UDPConn, error) {
	ip := normalizeIP(cfg.IP)
	network, err := addressFamily(ip, "udp")
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	addr := fmt.Sprintf("%s:%d", ip, cfg.Port)
	pc, err := retryBind(ctx, cfg.RetrySecs, func() (net.PacketConn, error) {
		return lc.ListenPacket(ctx, network, addr)
	})
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, errors.New("listener: expected a UDP packet conn")
	}
	return conn, nil
}

// addressFamily resolves ip to tcp4/tcp6 (or udp4/udp6), preferring
// whichever family the resolver returns first -- the Go equivalent of
// getaddrinfo(ip, port, AF_UNSPEC, ...) and taking the first AF_INET or
// AF_INET6 hit.
func addressFamily(ip, proto string) (string, error) {
	addr, err := net.ResolveIPAddr("ip", ip)
	if err != nil {
		return "", fmt.Errorf("listener: could not determine address family of %s: %w", ip, err)
	}
	if addr.IP.To4() != nil {
		return proto + "4", nil
	}
	if addr.IP.To16() != nil {
		return proto + "6", nil
	}
	return "", fmt.Errorf("listener: could not determine address family of %s", ip)
}

func retryBind[T any](ctx context.Context, retrySecs int, bind func() (T, error)) (T, error) {
	if retrySecs <= 0 {
		retrySecs = 30
	}
	deadline := time.Now().Add(time.Duration(retrySecs) * time.Second)
	var zero T
	for {
		v, err := bind()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return zero, fmt.Errorf("listener: bind failed: %w", err)
		}
		if time.Now().After(deadline) {
			return zero, fmt.Errorf("listener: could not bind after %ds: %w", retrySecs, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}
