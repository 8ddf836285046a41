package listener

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenTCPBindsEphemeralPort(t *testing.T) {
	ln, err := ListenTCP(context.Background(), Config{IP: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NotEmpty(t, port)
}

func TestListenUDPBindsEphemeralPort(t *testing.T) {
	conn, err := ListenUDP(context.Background(), Config{IP: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer conn.Close()
	_, port, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	require.NotEmpty(t, port)
}

func TestListenTCPRetriesOnAddrInUse(t *testing.T) {
	first, err := ListenTCP(context.Background(), Config{IP: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer first.Close()
	_, portStr, err := net.SplitHostPort(first.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = ListenTCP(ctx, Config{IP: "127.0.0.1", Port: port, RetrySecs: 1})
	require.Error(t, err)
}

func TestAddressFamilyDetectsIPv4(t *testing.T) {
	network, err := addressFamily("127.0.0.1", "tcp")
	require.NoError(t, err)
	require.Equal(t, "tcp4", network)
}

func TestAddressFamilyDetectsIPv6(t *testing.T) {
	network, err := addressFamily("::1", "tcp")
	require.NoError(t, err)
	require.Equal(t, "tcp6", network)
}
