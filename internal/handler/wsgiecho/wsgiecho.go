// Package wsgiecho is a bundled sample WSGI handler that echoes the
// request body back in the response, a starting point for other WSGI
// handlers. Grounded on original_source/brim/wsgi_echo.py.
package wsgiecho

import (
	"io"
	"net/http"
	"strconv"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/pipeline"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Symbol is the registry call= value for this handler.
const Symbol = "wsgiecho.Echo"

func init() {
	handler.Default.RegisterWSGI(Symbol, New)
	handler.Default.RegisterStatsDeclarer(Symbol, DeclareStats)
}

// Echo matches the configured path exactly, reads up to maxEcho bytes
// of the request body, and sends them back; any other path is passed
// to the next handler in the chain.
type Echo struct {
	name    string
	path    string
	maxEcho int
	next    pipeline.App
}

// New builds an Echo handler, the registered handler.WSGIFactory.
func New(name string, cfg handler.Config, next pipeline.App) (pipeline.App, error) {
	maxEcho, err := strconv.Atoi(cfg.Get("max_echo", "65536"))
	if err != nil {
		maxEcho = 65536
	}
	return &Echo{
		name:    name,
		path:    cfg.Get("path", "/echo"),
		maxEcho: maxEcho,
		next:    next,
	}, nil
}

// DeclareStats registers the "<name>.requests" sum stat Echo increments.
func DeclareStats(name string, cfg handler.Config) []stats.Declaration {
	return []stats.Declaration{{Name: name + ".requests", Kind: stats.KindSum}}
}

func (e *Echo) ServeBrim(env *pipeline.Env, w http.ResponseWriter) {
	if env.Path != e.path {
		e.next.ServeBrim(env, w)
		return
	}
	env.Stats.Incr(e.name + ".requests")
	body := make([]byte, e.maxEcho)
	n, err := io.ReadFull(env.Body, body)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		n = 0
	}
	body = body[:n]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
