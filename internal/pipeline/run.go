package pipeline

import (
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brimdotnet/brimd/internal/stats"
)

// Config bundles the per-subserver options the pipeline needs at run
// time: access-log shape and per-status counter selection (spec §4.5,
// §6's count_status_codes/log_headers options), plus where to mirror
// per-request timing for the admin mux's Prometheus surface.
type Config struct {
	LogHeaders       bool
	CountStatusCodes map[int]bool
	Metrics          RequestObserver
	SubserverName    string
}

// RequestObserver receives one completed request's duration and byte
// counts. Satisfied by *internal/metrics.Registry; kept as a narrow
// interface here so this package doesn't import metrics.
type RequestObserver interface {
	ObserveRequest(subserver string, dur time.Duration, bytesIn, bytesOut int)
}

// DefaultCountStatusCodes is the documented default of spec §6.
func DefaultCountStatusCodes() map[int]bool {
	return map[int]bool{404: true, 408: true, 499: true, 501: true}
}

// countingReader updates *n on every Read, matching
// wsgi.input-wrapping step 2 of spec §4.3 (read/readline/readlines all
// fold into io.Reader.Read calls here).
type countingReader struct {
	r io.ReadCloser
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

func (c *countingReader) Close() error { return c.r.Close() }

// recordingWriter intercepts status/headers (brim._start_response),
// applies the 200->204 zero-length rewrite, counts body bytes written,
// and suppresses the body entirely for HEAD requests.
type recordingWriter struct {
	http.ResponseWriter
	env           *Env
	method        string
	wroteHeader   bool
	finalStatus   int
	bytesOut      *int64
}

func newRecordingWriter(w http.ResponseWriter, env *Env, method string) *recordingWriter {
	return &recordingWriter{ResponseWriter: w, env: env, method: method, bytesOut: &env.BytesOut}
}

func (rw *recordingWriter) WriteHeader(status int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	rw.env.ResponseStatus = status
	rw.env.ResponseHeader = rw.Header().Clone()

	wire := status
	if status == http.StatusOK {
		if n, err := strconv.Atoi(rw.Header().Get("Content-Length")); err == nil && n == 0 {
			wire = http.StatusNoContent
		}
	}
	rw.finalStatus = wire
	rw.ResponseWriter.WriteHeader(wire)
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if rw.method == http.MethodHead {
		return len(p), nil
	}
	n, err := rw.ResponseWriter.Write(p)
	*rw.bytesOut += int64(n)
	return n, err
}

// NewEnv builds the per-request Env from an incoming *http.Request,
// generating a fresh txn id and binding the worker's stats view --
// spec §4.3 step 1 and the brim.* keys of §3.
func NewEnv(r *http.Request, view stats.View, logger zerolog.Logger) (*Env, *http.Request) {
	txn := newTxn()
	env := &Env{
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryString: r.URL.RawQuery,
		Protocol:    r.Proto,
		RemoteAddr:  r.RemoteAddr,
		Header:      r.Header,
		Start:       time.Now(),
		Txn:         txn,
		Stats:       view,
	}
	env.Logger = logger.With().Str("brim.txn", txn).Logger()
	cr := &countingReader{r: r.Body, n: &env.BytesIn}
	r.Body = cr
	env.Body = cr
	return env, r
}

func newTxn() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// Run invokes app with env and w (already wrapping r.Body for byte
// counting via NewEnv), recovering a synchronous panic into a
// zero-body 500 (spec §4.3 step 5), then emits exactly one access-log
// record (step 7) and updates the per-status counters (§4.5).
func Run(env *Env, app App, w http.ResponseWriter, r *http.Request, cfg Config) {
	rw := newRecordingWriter(w, env, r.Method)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				env.Logger.Error().
					Str("stack", condenseStack(debug.Stack())).
					Msgf("handler panic: %v", rec)
				if !rw.wroteHeader {
					rw.Header().Set("Content-Length", "0")
					rw.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()
		app.ServeBrim(env, rw)
	}()
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	elapsed := time.Since(env.Start)
	status := rw.finalStatus
	if env.ClientDisconnect {
		status = 499
	}
	line := FormatAccessLogLine(env, status, elapsed, cfg.LogHeaders)
	env.Logger.Info().Msg(line)
	updateStatusCounters(env.Stats, status, cfg.CountStatusCodes)
	if cfg.Metrics != nil {
		cfg.Metrics.ObserveRequest(cfg.SubserverName, elapsed, int(env.BytesIn), int(env.BytesOut))
	}
}

func updateStatusCounters(view stats.View, status int, countCodes map[int]bool) {
	view.Incr("request_count")
	if countCodes[status] {
		view.Incr(fmt.Sprintf("status_%d_count", status))
	}
	switch {
	case status >= 200 && status < 300:
		view.Incr("status_2xx_count")
	case status >= 300 && status < 400:
		view.Incr("status_3xx_count")
	case status >= 400 && status < 500:
		view.Incr("status_4xx_count")
	case status >= 500 && status < 600:
		view.Incr("status_5xx_count")
	}
}

func condenseStack(stack []byte) string {
	s := string(stack)
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, ';', ' ')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
