// Package handler implements the plug-in contract of spec §3/§4.2: a
// registry of named factory functions per subserver kind, the
// capability interfaces each kind's handlers satisfy, and config-time
// validation (arity/capability checks happen here, not at runtime, per
// DESIGN NOTES §9 "the introspective arity checks become compile-time
// type checks").
//
// Grounded on original_source/brim/server.py's handler loading and
// cuemby-warren's pkg/health capability-probe pattern (ServeTCP/
// ServeHTTP style interfaces per probe kind).
package handler

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/brimdotnet/brimd/internal/config"
	"github.com/brimdotnet/brimd/internal/pipeline"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Config is a handler's parsed, section-specific configuration -- the
// result of an optional ParseConfig capability, or the raw section
// strings when a handler declares none (spec §3: "a missing optional
// capability means default behavior: pass the full config").
type Config map[string]string

// Get mirrors config.Tree.Get's typed-default convenience for handler
// authors working from a Config already narrowed to their section.
func (c Config) Get(key, def string) string {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

// TCPHandler is the capability set a TCP subserver invokes per
// accepted connection (spec §3 "invoke: TCP takes (subserver, stats,
// socket, remote-ip, remote-port)").
type TCPHandler interface {
	ServeTCP(ctx context.Context, subserver string, view stats.View, conn net.Conn, remoteIP string, remotePort int)
}

// UDPHandler is the capability set a UDP subserver invokes per
// received datagram.
type UDPHandler interface {
	ServeUDP(ctx context.Context, subserver string, view stats.View, conn *net.UDPConn, datagram []byte, remoteAddr *net.UDPAddr)
}

// DaemonHandler is the capability set a Daemons subserver invokes,
// once per worker, for as long as the process runs (spec §4.2: "If the
// handler returns or raises, the worker re-constructs and
// re-invokes").
type DaemonHandler interface {
	ServeDaemon(ctx context.Context, subserver string, view stats.View) error
}

// ConfigParser is the optional *parse-config* capability of spec §3.
type ConfigParser interface {
	ParseConfig(name string, full *config.Tree) (Config, error)
}

// StatsDeclarer is the optional *declare-stats* capability of spec §3.
type StatsDeclarer interface {
	DeclareStats(name string, cfg Config) []stats.Declaration
}

// WSGIFactory builds a chainable WSGI handler: the last configured app
// in a wsgi list is innermost, each earlier one wraps the given next
// (spec §4.2).
type WSGIFactory func(name string, cfg Config, next pipeline.App) (pipeline.App, error)

// TCPFactory, UDPFactory, DaemonFactory build their respective
// non-chainable handlers.
type (
	TCPFactory    func(name string, cfg Config) (TCPHandler, error)
	UDPFactory    func(name string, cfg Config) (UDPHandler, error)
	DaemonFactory func(name string, cfg Config) (DaemonHandler, error)
)

// Registry maps a "call" symbol (spec §6: "call = module.symbol") to
// its factory, one table per subserver kind. The default Registry is
// populated by each bundled handler package's init().
type Registry struct {
	wsgi   map[string]WSGIFactory
	tcp    map[string]TCPFactory
	udp    map[string]UDPFactory
	daemon map[string]DaemonFactory

	configParsers map[string]func(name string, full *config.Tree) (Config, error)
	statsDeclarers map[string]func(name string, cfg Config) []stats.Declaration
}

// Default is the process-wide registry bundled handler packages
// register themselves into, the Go equivalent of the source's
// dotted-symbol-path import machinery (spec §9: "a registry of named
// factory functions populated at link time").
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		wsgi:           make(map[string]WSGIFactory),
		tcp:            make(map[string]TCPFactory),
		udp:            make(map[string]UDPFactory),
		daemon:         make(map[string]DaemonFactory),
		configParsers:  make(map[string]func(name string, full *config.Tree) (Config, error)),
		statsDeclarers: make(map[string]func(name string, cfg Config) []stats.Declaration),
	}
}

func (r *Registry) RegisterWSGI(symbol string, f WSGIFactory)       { r.wsgi[symbol] = f }
func (r *Registry) RegisterTCP(symbol string, f TCPFactory)         { r.tcp[symbol] = f }
func (r *Registry) RegisterUDP(symbol string, f UDPFactory)         { r.udp[symbol] = f }
func (r *Registry) RegisterDaemon(symbol string, f DaemonFactory)   { r.daemon[symbol] = f }

// RegisterConfigParser/RegisterStatsDeclarer attach the optional
// capabilities of spec §3 to a symbol already registered under one of
// the kind-specific Register* calls.
func (r *Registry) RegisterConfigParser(symbol string, f func(name string, full *config.Tree) (Config, error)) {
	r.configParsers[symbol] = f
}

func (r *Registry) RegisterStatsDeclarer(symbol string, f func(name string, cfg Config) []stats.Declaration) {
	r.statsDeclarers[symbol] = f
}

// ParseConfig runs symbol's optional ParseConfig capability, falling
// back to the raw section as Config when none is registered.
func (r *Registry) ParseConfig(symbol, name string, full *config.Tree) (Config, error) {
	if f, ok := r.configParsers[symbol]; ok {
		return f(name, full)
	}
	section := full.Section(name)
	cfg := make(Config, len(section))
	for k, v := range section {
		cfg[k] = v
	}
	return cfg, nil
}

// DeclareStats runs symbol's optional DeclareStats capability, or
// returns no additional stats when none is registered.
func (r *Registry) DeclareStats(symbol, name string, cfg Config) []stats.Declaration {
	if f, ok := r.statsDeclarers[symbol]; ok {
		return f(name, cfg)
	}
	return nil
}

// ConstructWSGI validates symbol is a registered WSGI factory and
// invokes it -- the compile-time-checked equivalent of spec §4.2's
// "verifies that the loaded handler symbol is a constructor accepting
// the required arity" check, performed at configuration time (step 3
// of §4.1), never at request time.
func (r *Registry) ConstructWSGI(symbol, name string, cfg Config, next pipeline.App) (pipeline.App, error) {
	f, ok := r.wsgi[symbol]
	if !ok {
		return nil, fmt.Errorf("handler: no WSGI handler registered for call=%q", symbol)
	}
	return f(name, cfg, next)
}

func (r *Registry) ConstructTCP(symbol, name string, cfg Config) (TCPHandler, error) {
	f, ok := r.tcp[symbol]
	if !ok {
		return nil, fmt.Errorf("handler: no TCP handler registered for call=%q", symbol)
	}
	return f(name, cfg)
}

func (r *Registry) ConstructUDP(symbol, name string, cfg Config) (UDPHandler, error) {
	f, ok := r.udp[symbol]
	if !ok {
		return nil, fmt.Errorf("handler: no UDP handler registered for call=%q", symbol)
	}
	return f(name, cfg)
}

func (r *Registry) ConstructDaemon(symbol, name string, cfg Config) (DaemonHandler, error) {
	f, ok := r.daemon[symbol]
	if !ok {
		return nil, fmt.Errorf("handler: no daemon handler registered for call=%q", symbol)
	}
	return f(name, cfg)
}

// NotFound is the default innermost WSGI handler of spec §4.2: "A
// default innermost handler returns 404 Not Found with zero body."
var NotFound = pipeline.AppFunc(func(env *pipeline.Env, w http.ResponseWriter) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNotFound)
})
