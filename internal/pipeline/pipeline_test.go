package pipeline

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/stats"
)

func newTestEnv(t *testing.T, method, path, query string) (*Env, *http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, path+"?"+query, strings.NewReader(""))
	s := stats.NewSet(1, []stats.Declaration{
		{Name: "request_count", Kind: stats.KindSum},
		{Name: "status_2xx_count", Kind: stats.KindSum},
		{Name: "status_3xx_count", Kind: stats.KindSum},
		{Name: "status_4xx_count", Kind: stats.KindSum},
		{Name: "status_5xx_count", Kind: stats.KindSum},
		{Name: "status_404_count", Kind: stats.KindSum},
	})
	view := stats.NewView(s, 0)
	env, req := NewEnv(req, view, zerolog.Nop())
	return env, req, httptest.NewRecorder()
}

func TestRunRewrites200ToNoContentOnZeroLength(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	})
	Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	require.Equal(t, http.StatusNoContent, rw.Code)
}

func TestRunPreservesNonNumericContentLength(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		w.Header().Set("Content-Length", "abc")
		w.WriteHeader(http.StatusOK)
	})
	Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	require.Equal(t, http.StatusOK, rw.Code)
}

func TestRunSuppressesBodyOnHead(t *testing.T) {
	env, req, rw := newTestEnv(t, "HEAD", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	})
	Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	require.Empty(t, rw.Body.String())
}

func TestRunRecoversPanicAsInternalServerError(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		panic("boom")
	})
	Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	require.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestRunUpdatesStatusCounters(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		w.WriteHeader(http.StatusNotFound)
	})
	Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	require.Equal(t, uint64(1), env.Stats.Get("request_count"))
	require.Equal(t, uint64(1), env.Stats.Get("status_4xx_count"))
	require.Equal(t, uint64(1), env.Stats.Get("status_404_count"))
}

type recordedObservation struct {
	subserver         string
	dur               time.Duration
	bytesIn, bytesOut int
}

type fakeObserver struct{ got *recordedObservation }

func (f fakeObserver) ObserveRequest(subserver string, dur time.Duration, bytesIn, bytesOut int) {
	*f.got = recordedObservation{subserver, dur, bytesIn, bytesOut}
}

func TestRunReportsMetricsWhenConfigured(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hi"))
	})
	var got recordedObservation
	Run(env, app, rw, req, Config{
		CountStatusCodes: DefaultCountStatusCodes(),
		Metrics:          fakeObserver{&got},
		SubserverName:    "wsgi",
	})
	require.Equal(t, "wsgi", got.subserver)
	require.Equal(t, 2, got.bytesOut)
}

func TestRunSkipsMetricsWhenNotConfigured(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) { w.WriteHeader(http.StatusOK) })
	require.NotPanics(t, func() {
		Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	})
}

func TestRunClientDisconnectForces499(t *testing.T) {
	env, req, rw := newTestEnv(t, "GET", "/x", "")
	app := AppFunc(func(env *Env, w http.ResponseWriter) {
		env.ClientDisconnect = true
		w.WriteHeader(http.StatusOK)
	})
	Run(env, app, rw, req, Config{CountStatusCodes: DefaultCountStatusCodes()})
	require.Contains(t, accessLogLine(t, env, 499), " 499 ")
	// Run counted the request as 499, not as the 200 the handler wrote.
	require.Equal(t, uint64(1), env.Stats.Get("status_4xx_count"))
	require.Equal(t, uint64(0), env.Stats.Get("status_2xx_count"))
}

func accessLogLine(t *testing.T, env *Env, status int) string {
	t.Helper()
	return FormatAccessLogLine(env, status, time.Millisecond, false)
}

func TestFormatAccessLogLineHasFiveDecimalElapsed(t *testing.T) {
	env, _, _ := newTestEnv(t, "GET", "/a/b", "q=1")
	line := FormatAccessLogLine(env, 200, 1234567*time.Nanosecond, false)
	fields := strings.Fields(line)
	require.Len(t, fields, 15)
	elapsed := fields[14]
	parts := strings.SplitN(elapsed, ".", 2)
	require.Len(t, parts, 2)
	require.Len(t, parts[1], 5)
}

func TestPathQueryFieldRoundTrips(t *testing.T) {
	field := pathQueryField("/a b", "x=1+2")
	decodedBack := mustUnescapePercentField(t, field)
	require.Equal(t, "/a b?x=1 2", decodedBack)
}

// mustUnescapePercentField reverses percentEncodeField's %XX escaping
// for round-trip assertions.
func mustUnescapePercentField(t *testing.T, s string) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			n, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			require.NoError(t, err)
			b.WriteByte(byte(n))
			i += 2
		} else {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
