package subserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/stats"
)

type echoUDPHandler struct{}

func (echoUDPHandler) ServeUDP(ctx context.Context, subserver string, view stats.View, conn *net.UDPConn, datagram []byte, remoteAddr *net.UDPAddr) {
	view.IncrBy("byte_count", uint64(len(datagram)))
	conn.WriteToUDP(datagram, remoteAddr)
}

func TestUDPEchoesDatagrams(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	set := stats.NewSet(1, []stats.Declaration{{Name: "byte_count", Kind: stats.KindSum}})
	sub := NewUDP(UDPConfig{
		Name:        "udptest",
		Conn:        conn,
		Handler:     echoUDPHandler{},
		WorkerCount: 1,
		Stats:       set,
		Logger:      zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, uint64(4), set.Get(0, "byte_count"))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
