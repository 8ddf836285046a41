package tcpecho

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/stats"
)

func TestEchoEchoesBytesAndCountsThem(t *testing.T) {
	h, err := New("tcp_echo", handler.Config{})
	require.NoError(t, err)
	set := stats.NewSet(1, []stats.Declaration{{Name: "byte_count", Kind: stats.KindSum}})
	view := stats.NewView(set, 0)

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		h.ServeTCP(context.Background(), "tcp", view, server, "127.0.0.1", 1234)
		close(done)
	}()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
	client.Close()
	<-done
	require.Equal(t, uint64(4), set.Get(0, "byte_count"))
}
