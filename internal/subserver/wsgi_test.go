package subserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/pipeline"
	"github.com/brimdotnet/brimd/internal/stats"
)

func TestWSGIServesRequestsAndIncrementsStats(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	set := stats.NewSet(1, []stats.Declaration{
		{Name: "request_count", Kind: stats.KindSum},
		{Name: "status_2xx_count", Kind: stats.KindSum},
		{Name: "status_3xx_count", Kind: stats.KindSum},
		{Name: "status_4xx_count", Kind: stats.KindSum},
		{Name: "status_5xx_count", Kind: stats.KindSum},
	})

	app := pipeline.AppFunc(func(env *pipeline.Env, w http.ResponseWriter) {
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	sub := NewWSGI(WSGIConfig{
		Name:                "wsgitest",
		Listener:            ln,
		App:                 app,
		WorkerCount:         1,
		ConcurrentPerWorker: 4,
		ClientTimeout:       5 * time.Second,
		Stats:               set,
		Pipeline:            pipeline.Config{CountStatusCodes: pipeline.DefaultCountStatusCodes()},
		Logger:              zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/anything")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	require.Equal(t, uint64(1), set.Get(0, "request_count"))
	require.Equal(t, uint64(1), set.Get(0, "status_2xx_count"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWSGISerializesRequestsPastCapacity(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	app := pipeline.AppFunc(func(env *pipeline.Env, w http.ResponseWriter) {
		entered <- struct{}{}
		<-release
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})

	set := stats.NewSet(1, []stats.Declaration{
		{Name: "request_count", Kind: stats.KindSum},
		{Name: "status_2xx_count", Kind: stats.KindSum},
		{Name: "status_3xx_count", Kind: stats.KindSum},
		{Name: "status_4xx_count", Kind: stats.KindSum},
		{Name: "status_5xx_count", Kind: stats.KindSum},
	})

	sub := NewWSGI(WSGIConfig{
		Name:                "wsgicap",
		Listener:            ln,
		App:                 app,
		WorkerCount:         1,
		ConcurrentPerWorker: 1,
		ClientTimeout:       5 * time.Second,
		Stats:               set,
		Pipeline:            pipeline.Config{CountStatusCodes: pipeline.DefaultCountStatusCodes()},
		Logger:              zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	url := "http://" + ln.Addr().String() + "/slow"
	firstDone := make(chan struct{})
	go func() {
		resp, err := http.Get(url)
		require.NoError(t, err)
		resp.Body.Close()
		close(firstDone)
	}()
	<-entered

	// A second request issued while the first holds the only admission
	// slot must block rather than be admitted concurrently.
	secondStarted := make(chan struct{})
	secondDone := make(chan struct{})
	go func() {
		close(secondStarted)
		resp, err := http.Get(url)
		require.NoError(t, err)
		resp.Body.Close()
		close(secondDone)
	}()
	<-secondStarted

	select {
	case <-entered:
		t.Fatal("second request was admitted before the first released its slot")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-firstDone
	<-entered
	<-secondDone
}
