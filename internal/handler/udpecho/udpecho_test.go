package udpecho

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

func TestEchoRespondsAndCountsBytes(t *testing.T) {
	h, err := New("udp_echo", handler.Config{})
	require.NoError(t, err)

	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer serverConn.Close()
	clientConn, err := net.DialUDP("udp", nil, serverConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer clientConn.Close()

	_, err = clientConn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, remoteAddr, err := serverConn.ReadFromUDP(buf)
	require.NoError(t, err)

	set := stats.NewSet(1, []stats.Declaration{{Name: "byte_count", Kind: stats.KindSum}})
	view := stats.NewView(set, 0)
	h.ServeUDP(context.Background(), "udp", view, serverConn, buf[:n], remoteAddr)

	reply := make([]byte, 64)
	n, err = clientConn.Read(reply)
	require.NoError(t, err)
	require.Equal(t, "ping", string(reply[:n]))
	require.Equal(t, uint64(4), set.Get(0, "byte_count"))
}
