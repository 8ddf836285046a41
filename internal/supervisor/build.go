// Package supervisor implements spec §4.1: startup ordering, signal
// discipline, the restart handoff protocol, and the worker-pool-of-
// subservers supervision that re-spawns a dying subserver.
//
// Grounded on original_source/brim/server.py's Server.main/_start and
// original_source/brim/service.py's sustain_workers, translated to the
// one-process/goroutine model of SPEC_FULL.md §0.
package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/brimdotnet/brimd/internal/config"
	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/listener"
	"github.com/brimdotnet/brimd/internal/metrics"
	"github.com/brimdotnet/brimd/internal/pipeline"
	"github.com/brimdotnet/brimd/internal/stats"
	"github.com/brimdotnet/brimd/internal/subserver"
)

// networkConfig is the shared set of options every subserver kind
// parses (spec §4.2): "config parsing for IP, port, backlog, TLS
// files, user, group, umask, worker count, client timeout,
// concurrent-request budget per worker, and JSON codec selection."
//
// user/group/umask are deliberately absent: original_source/brim/server.py
// reads those only from [brim], once, for the single process-wide
// droppriv call -- never per subserver section -- so there is nothing to
// generalize per kind here (see internal/supervisor.New).
type networkConfig struct {
	ip                  string
	port                int
	backlog             int
	retrySecs           int
	certFile, keyFile   string
	workerCount         int
	clientTimeout       time.Duration
	concurrentPerWorker int
	logHeaders          bool
	countStatusCodes    map[int]bool
}

// kindSection returns name's own section if defined, falling back to
// [brim] -- the Go generalization of "section-level overrides of
// [brim] options are recognized" (spec §6) to the per-kind level.
func kindSection(tree *config.Tree, name string) func(option, def string) string {
	return func(option, def string) string {
		if tree.HasSection(name) {
			if v := tree.Section(name)[option]; v != "" {
				return v
			}
		}
		return tree.Get("brim", option, def)
	}
}

func parseNetworkConfig(tree *config.Tree, kindName string) (networkConfig, error) {
	get := kindSection(tree, kindName)
	nc := networkConfig{
		ip:       get("ip", "*"),
		certFile: get("certfile", ""),
		keyFile:  get("keyfile", ""),
	}

	var err error
	if nc.port, err = parseIntOpt(get("port", "80")); err != nil {
		return nc, fmt.Errorf("supervisor: [%s] port: %w", kindName, err)
	}
	if nc.backlog, err = parseIntOpt(get("backlog", "4096")); err != nil {
		return nc, fmt.Errorf("supervisor: [%s] backlog: %w", kindName, err)
	}
	if nc.retrySecs, err = parseIntOpt(get("listen_retry", "30")); err != nil {
		return nc, fmt.Errorf("supervisor: [%s] listen_retry: %w", kindName, err)
	}
	if nc.workerCount, err = parseIntOpt(get("workers", "1")); err != nil {
		return nc, fmt.Errorf("supervisor: [%s] workers: %w", kindName, err)
	}
	timeoutSecs, err := parseIntOpt(get("client_timeout", "60"))
	if err != nil {
		return nc, fmt.Errorf("supervisor: [%s] client_timeout: %w", kindName, err)
	}
	nc.clientTimeout = time.Duration(timeoutSecs) * time.Second
	if nc.concurrentPerWorker, err = parseIntOpt(get("concurrent_per_worker", "1024")); err != nil {
		return nc, fmt.Errorf("supervisor: [%s] concurrent_per_worker: %w", kindName, err)
	}
	logHeaders, err := parseBoolOpt(get("log_headers", "false"))
	if err != nil {
		return nc, fmt.Errorf("supervisor: [%s] log_headers: %w", kindName, err)
	}
	nc.logHeaders = logHeaders
	nc.countStatusCodes, err = parseCountStatusCodes(get("count_status_codes", "404 408 499 501"))
	if err != nil {
		return nc, fmt.Errorf("supervisor: [%s] count_status_codes: %w", kindName, err)
	}
	return nc, nil
}

func parseIntOpt(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func parseBoolOpt(v string) (bool, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "", "0", "f", "false", "n", "no", "off":
		return false, nil
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	default:
		return false, fmt.Errorf("%q is not a boolean", v)
	}
}

func parseCountStatusCodes(v string) (map[int]bool, error) {
	out := make(map[int]bool)
	for _, tok := range strings.Fields(v) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer status code", tok)
		}
		out[n] = true
	}
	return out, nil
}

// Built is the fully constructed, pre-privilege-drop state of one
// supervisor run: every subserver is validated and its listening
// socket acquired (spec §4.1 steps 1-6), but no goroutine has started.
type Built struct {
	Subservers []subserver.Runner
	Sets       map[string]*stats.Set
	Metrics    *metrics.Registry
	Logger     zerolog.Logger
	startedAt  time.Time
}

// MarkStarted records when the subservers actually began serving (spec
// §6's stats endpoint "start_time" root field). Called once by
// Supervisor.Run before any subserver goroutine starts; the WSGI
// subserver's StatsSource (wired at the end of Build, before the
// Supervisor exists) reads it by reference so a later call here is
// still reflected.
func (b *Built) MarkStarted() { b.startedAt = time.Now() }

// Build executes spec §4.1 steps 3-6: instantiate each enumerated
// subserver section, validate handler symbols, parse handler configs,
// declare stats, acquire listening sockets (step 4 -- still running as
// the original uid, before privdrop.Drop is called by the caller at
// step 5), and allocate the stats bucket sets (step 6, now that every
// stat name is known).
func Build(ctx context.Context, tree *config.Tree, logger zerolog.Logger) (*Built, error) {
	b := &Built{Sets: make(map[string]*stats.Set), Metrics: metrics.NewRegistry(), Logger: logger}

	if names := tree.GetList("brim", "wsgi"); len(names) > 0 {
		sub, set, err := buildWSGI(ctx, tree, names, b.Metrics, logger)
		if err != nil {
			return nil, err
		}
		b.Subservers = append(b.Subservers, sub)
		b.Sets["wsgi"] = set
	}
	if names := tree.GetList("brim", "tcp"); len(names) > 0 {
		sub, set, err := buildTCP(ctx, tree, names, logger)
		if err != nil {
			return nil, err
		}
		b.Subservers = append(b.Subservers, sub)
		b.Sets["tcp"] = set
	}
	if names := tree.GetList("brim", "udp"); len(names) > 0 {
		sub, set, err := buildUDP(ctx, tree, names, logger)
		if err != nil {
			return nil, err
		}
		b.Subservers = append(b.Subservers, sub)
		b.Sets["udp"] = set
	}
	if names := tree.GetList("brim", "daemons"); len(names) > 0 {
		sub, set, err := buildDaemons(tree, names, logger)
		if err != nil {
			return nil, err
		}
		b.Subservers = append(b.Subservers, sub)
		b.Sets["daemons"] = set
	}

	// The stats-reporting sample handler needs every subserver's bucket
	// set, which only exists once the loop above has finished -- so the
	// WSGI subserver's StatsSource is attached last, after the fact.
	for _, sub := range b.Subservers {
		if w, ok := sub.(*subserver.WSGI); ok {
			w.SetStatsSource(b.StatsSource())
		}
	}
	return b, nil
}

type statsSource struct {
	b *Built
}

func (s *statsSource) AllStats() []pipeline.SubserverStats {
	out := make([]pipeline.SubserverStats, 0, len(s.b.Sets))
	for name, set := range s.b.Sets {
		out = append(out, pipeline.SubserverStats{Name: name, Set: set})
	}
	return out
}

func (s *statsSource) StartTime() time.Time { return s.b.startedAt }

// StatsSource returns the pipeline.StatsSource every WSGI handler's Env
// is given, letting a stats-reporting handler see every subserver's
// bucket set (spec §6's stats-endpoint format), not just its own. Its
// StartTime reflects MarkStarted's most recent call, even though
// StatsSource itself is constructed earlier, during Build.
func (b *Built) StatsSource() pipeline.StatsSource {
	return &statsSource{b: b}
}

func buildWSGIChain(names []string, tree *config.Tree, declSet *[]stats.Declaration) (pipeline.App, error) {
	app := handler.NotFound
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		section := tree.Section(name)
		if section == nil {
			return nil, fmt.Errorf("supervisor: wsgi app %q: no such section", name)
		}
		symbol := section["call"]
		if symbol == "" {
			return nil, fmt.Errorf("supervisor: wsgi app %q: missing call=", name)
		}
		cfg, err := handler.Default.ParseConfig(symbol, name, tree)
		if err != nil {
			return nil, fmt.Errorf("supervisor: wsgi app %q: %w", name, err)
		}
		*declSet = append(*declSet, handler.Default.DeclareStats(symbol, name, cfg)...)
		app, err = handler.Default.ConstructWSGI(symbol, name, cfg, app)
		if err != nil {
			return nil, fmt.Errorf("supervisor: wsgi app %q: %w", name, err)
		}
	}
	return app, nil
}

func buildWSGI(ctx context.Context, tree *config.Tree, names []string, mreg *metrics.Registry, logger zerolog.Logger) (subserver.Runner, *stats.Set, error) {
	nc, err := parseNetworkConfig(tree, "wsgi")
	if err != nil {
		return nil, nil, err
	}
	var decls []stats.Declaration
	decls = append(decls,
		stats.Declaration{Name: "start_time", Kind: stats.KindWorker},
		stats.Declaration{Name: "request_count", Kind: stats.KindSum},
		stats.Declaration{Name: "status_2xx_count", Kind: stats.KindSum},
		stats.Declaration{Name: "status_3xx_count", Kind: stats.KindSum},
		stats.Declaration{Name: "status_4xx_count", Kind: stats.KindSum},
		stats.Declaration{Name: "status_5xx_count", Kind: stats.KindSum},
	)
	for code := range nc.countStatusCodes {
		decls = append(decls, stats.Declaration{Name: fmt.Sprintf("status_%d_count", code), Kind: stats.KindSum})
	}
	app, err := buildWSGIChain(names, tree, &decls)
	if err != nil {
		return nil, nil, err
	}

	// wsgi_input_iter_chunk_size (spec §6) sized the source's generator-
	// based body iterator; Go's pull-based io.Reader has no equivalent
	// chunking knob (each Read already returns whatever the caller's own
	// buffer can hold), so the option is still validated as numeric
	// (spec §4.2: "All numeric options validate at parse time") but
	// otherwise unused.
	if _, err := parseIntOpt(kindSection(tree, "wsgi")("wsgi_input_iter_chunk_size", "4096")); err != nil {
		return nil, nil, fmt.Errorf("supervisor: [wsgi] wsgi_input_iter_chunk_size: %w", err)
	}

	ln, err := listener.ListenTCP(ctx, listener.Config{
		IP: nc.ip, Port: nc.port, Backlog: nc.backlog, RetrySecs: nc.retrySecs,
		CertFile: nc.certFile, KeyFile: nc.keyFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: wsgi listener: %w", err)
	}

	// workers = 0 gives a zero-bucket set, whose operations are no-ops.
	set := stats.NewSet(nc.workerCount, decls)

	sub := subserver.NewWSGI(subserver.WSGIConfig{
		Name:                "wsgi",
		Listener:            ln,
		App:                 app,
		WorkerCount:         nc.workerCount,
		ConcurrentPerWorker: nc.concurrentPerWorker,
		ClientTimeout:       nc.clientTimeout,
		Stats:               set,
		Pipeline: pipeline.Config{
			LogHeaders:       nc.logHeaders,
			CountStatusCodes: nc.countStatusCodes,
			Metrics:          mreg,
			SubserverName:    "wsgi",
		},
		Logger: logger.With().Str("role", "wid").Logger(),
	})
	return sub, set, nil
}

func buildTCP(ctx context.Context, tree *config.Tree, names []string, logger zerolog.Logger) (subserver.Runner, *stats.Set, error) {
	if len(names) != 1 {
		return nil, nil, fmt.Errorf("supervisor: tcp: exactly one handler section is supported, got %d", len(names))
	}
	name := names[0]
	section := tree.Section(name)
	if section == nil {
		return nil, nil, fmt.Errorf("supervisor: tcp handler %q: no such section", name)
	}
	symbol := section["call"]
	if symbol == "" {
		return nil, nil, fmt.Errorf("supervisor: tcp handler %q: missing call=", name)
	}
	cfg, err := handler.Default.ParseConfig(symbol, name, tree)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: tcp handler %q: %w", name, err)
	}
	decls := handler.Default.DeclareStats(symbol, name, cfg)
	h, err := handler.Default.ConstructTCP(symbol, name, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: tcp handler %q: %w", name, err)
	}

	nc, err := parseNetworkConfig(tree, "tcp")
	if err != nil {
		return nil, nil, err
	}
	ln, err := listener.ListenTCP(ctx, listener.Config{
		IP: nc.ip, Port: nc.port, Backlog: nc.backlog, RetrySecs: nc.retrySecs,
		CertFile: nc.certFile, KeyFile: nc.keyFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: tcp listener: %w", err)
	}

	buckets := nc.workerCount
	if buckets <= 0 {
		buckets = 1
	}
	set := stats.NewSet(buckets, decls)

	sub := subserver.NewTCP(subserver.TCPConfig{
		Name: "tcp", Listener: ln, Handler: h, WorkerCount: nc.workerCount,
		ConcurrentPerWorker: nc.concurrentPerWorker, Stats: set,
		Logger: logger.With().Str("role", "tid").Logger(),
	})
	return sub, set, nil
}

func buildUDP(ctx context.Context, tree *config.Tree, names []string, logger zerolog.Logger) (subserver.Runner, *stats.Set, error) {
	if len(names) != 1 {
		return nil, nil, fmt.Errorf("supervisor: udp: exactly one handler section is supported, got %d", len(names))
	}
	name := names[0]
	section := tree.Section(name)
	if section == nil {
		return nil, nil, fmt.Errorf("supervisor: udp handler %q: no such section", name)
	}
	symbol := section["call"]
	if symbol == "" {
		return nil, nil, fmt.Errorf("supervisor: udp handler %q: missing call=", name)
	}
	cfg, err := handler.Default.ParseConfig(symbol, name, tree)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: udp handler %q: %w", name, err)
	}
	decls := handler.Default.DeclareStats(symbol, name, cfg)
	h, err := handler.Default.ConstructUDP(symbol, name, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: udp handler %q: %w", name, err)
	}

	nc, err := parseNetworkConfig(tree, "udp")
	if err != nil {
		return nil, nil, err
	}
	conn, err := listener.ListenUDP(ctx, listener.Config{IP: nc.ip, Port: nc.port, RetrySecs: nc.retrySecs})
	if err != nil {
		return nil, nil, fmt.Errorf("supervisor: udp listener: %w", err)
	}

	buckets := nc.workerCount
	if buckets <= 0 {
		buckets = 1
	}
	set := stats.NewSet(buckets, decls)

	sub := subserver.NewUDP(subserver.UDPConfig{
		Name: "udp", Conn: conn, Handler: h, WorkerCount: nc.workerCount,
		ConcurrentPerWorker: nc.concurrentPerWorker, Stats: set,
		Logger: logger.With().Str("role", "uid").Logger(),
	})
	return sub, set, nil
}

func buildDaemons(tree *config.Tree, names []string, logger zerolog.Logger) (subserver.Runner, *stats.Set, error) {
	decls := []stats.Declaration{{Name: "start_time", Kind: stats.KindWorker}}
	daemons := make([]handler.DaemonHandler, 0, len(names))
	for _, name := range names {
		section := tree.Section(name)
		if section == nil {
			return nil, nil, fmt.Errorf("supervisor: daemon %q: no such section", name)
		}
		symbol := section["call"]
		if symbol == "" {
			return nil, nil, fmt.Errorf("supervisor: daemon %q: missing call=", name)
		}
		cfg, err := handler.Default.ParseConfig(symbol, name, tree)
		if err != nil {
			return nil, nil, fmt.Errorf("supervisor: daemon %q: %w", name, err)
		}
		decls = append(decls, handler.Default.DeclareStats(symbol, name, cfg)...)
		h, err := handler.Default.ConstructDaemon(symbol, name, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("supervisor: daemon %q: %w", name, err)
		}
		daemons = append(daemons, h)
	}
	set := stats.NewSet(len(daemons), decls)
	sub := subserver.NewDaemonFanout(subserver.DaemonFanoutConfig{
		Name:    "daemons",
		Daemons: daemons,
		Stats:   set,
		Logger:  logger.With().Str("role", "did").Logger(),
	})
	return sub, set, nil
}
