package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/stats"
)

func TestMirrorStatsAndServeHandler(t *testing.T) {
	r := NewRegistry()
	s := stats.NewSet(2, []stats.Declaration{{Name: "request_count", Kind: stats.KindSum}})
	s.Incr(0, "request_count")
	r.MirrorStats("wsgi", s)
	r.ObserveRequest("wsgi", 5*time.Millisecond, 10, 20)

	rw := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rw, req)
	require.Equal(t, 200, rw.Code)
	require.Contains(t, rw.Body.String(), "brimd_stat_value")
	require.Contains(t, rw.Body.String(), "brimd_request_duration_seconds")
}
