// Package pipeline implements the HTTP request pipeline of spec §4.3:
// per-request env construction, middleware chain invocation, byte
// accounting, the 200->204 status rewrite, and access-log emission.
//
// Grounded on original_source/brim/server.py's _wsgi_entry/_log_request.
package pipeline

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimdotnet/brimd/internal/stats"
)

// Env is the per-request context threaded through a WSGI middleware
// chain -- the Go shape of spec §3's "HTTP env" string->value mapping,
// with the core-injected brim.* keys promoted to named fields.
type Env struct {
	Method      string
	Path        string
	QueryString string
	Protocol    string
	RemoteAddr  string
	Header      http.Header // HTTP_* headers, as received
	Body        io.Reader   // wsgi.input, wrapped for byte accounting

	Start  time.Time   // brim.start
	Txn    string      // brim.txn
	Logger zerolog.Logger // brim.logger
	Stats  stats.View  // brim.stats

	BytesIn  int64 // brim._bytes_in
	BytesOut int64 // brim._bytes_out

	AdditionalRequestLogInfo []string // brim.additional_request_log_info
	ClientDisconnect         bool     // brim._client_disconnect

	// StatsSource, when set by the owning WSGI subserver, exposes every
	// subserver's full bucket set and the process start time -- the Go
	// stand-in for the source's env['brim'].server reference, used by
	// the stats-reporting sample handler.
	StatsSource StatsSource

	// ResponseStatus/ResponseHeader capture what the middleware chain
	// passed to start-response (brim._start_response), before the
	// transport's 200->204 rewrite is applied.
	ResponseStatus int
	ResponseHeader http.Header
}

// SubserverStats names one subserver's full bucket set, as needed to
// report both the aggregate and per-worker rows (spec §6's stats
// endpoint format).
type SubserverStats struct {
	Name string
	Set  *stats.Set
}

// StatsSource is implemented by the supervisor and handed to WSGI envs
// so a stats-reporting handler can enumerate every subserver's stats.
type StatsSource interface {
	AllStats() []SubserverStats
	StartTime() time.Time
}

// App is what a WSGI-capable handler implements: the composed
// middleware chain invocation of spec §4.3 step 3. Handlers read
// env.Header/Method/Path/etc., optionally append to
// env.AdditionalRequestLogInfo, and write their response to w -- status
// and headers set through w are mirrored into env.ResponseStatus/
// ResponseHeader by run.go's recordingWriter before the wire write.
type App interface {
	ServeBrim(env *Env, w http.ResponseWriter)
}

// AppFunc adapts a plain function to App.
type AppFunc func(env *Env, w http.ResponseWriter)

func (f AppFunc) ServeBrim(env *Env, w http.ResponseWriter) { f(env, w) }
