package main

import (
	"context"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/brimdotnet/brimd/internal/config"
	"github.com/brimdotnet/brimd/internal/logctx"
	"github.com/brimdotnet/brimd/internal/pidfile"
	"github.com/brimdotnet/brimd/internal/supervisor"
)

// loadConfig implements spec §4.1 steps 1-2: resolve config files and
// load them, an ordinary returned error rather than a panic.
func loadConfig() (*config.Tree, error) {
	if len(confFiles) == 0 {
		return nil, fmt.Errorf("no configuration found")
	}
	return config.Load(confFiles)
}

// runForeground is the code path every "actually serving" invocation
// funnels through: no-daemon mode directly, start/restart indirectly
// once Daemonize's re-exec'd child reaches this same command again.
func runForeground(ctx context.Context) error {
	tree, err := loadConfig()
	if err != nil {
		return err
	}

	logctx.Init(logctx.Config{
		Level:      tree.Get("brim", "log_level", "info"),
		Name:       tree.Get("brim", "log_name", "brimd"),
		JSONOutput: tree.Get("brim", "log_json", "false") == "true",
	})
	logger := logctx.Logger

	if supervisor.IsDaemonizedChild() && !keepStdio {
		restore := logctx.InstallCapture("main", 0)
		defer restore()
	}

	sup, err := supervisor.New(ctx, tree, logger)
	if err != nil {
		return err
	}

	runCtx, cancel := supervisor.WithSignals(ctx, logger)
	defer cancel()

	stopAdmin := startAdminMux(runCtx, tree, sup)
	defer stopAdmin()

	return sup.Run(runCtx)
}

// startAdminMux mounts the Prometheus mirror of spec §9's domain stack
// alongside the core's own JSON stats endpoint (served by the bundled
// wsgistats handler inside the WSGI chain, not by this mux). Returns a
// func that shuts the admin listener down.
func startAdminMux(ctx context.Context, tree *config.Tree, sup *supervisor.Supervisor) func() {
	addr := tree.Get("brim", "admin_ip", "127.0.0.1") + ":" + tree.Get("brim", "admin_port", "9090")
	mux := http.NewServeMux()
	mux.Handle("/metrics", sup.Built().Metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logctx.Logger.Warn().Err(err).Str("addr", addr).Msg("admin mux exited")
		}
	}()

	ticker := time.NewTicker(time.Second)
	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, set := range sup.Built().Sets {
					sup.Built().Metrics.MirrorStats(name, set)
				}
			}
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-mirrorDone
	}
}

// cmdStart implements the "start" command of spec §4.1: a signal-0
// liveness check, then either a polite "already running" message or a
// daemonized launch. A re-exec'd daemon child lands here too (same
// argv), recognized by IsDaemonizedChild and routed straight to
// runForeground instead of daemonizing again.
func cmdStart(ctx context.Context) error {
	if supervisor.IsDaemonizedChild() {
		return runForeground(ctx)
	}
	existingPid, err := pidfile.Read(pidPath)
	if err != nil {
		return err
	}
	if pidfile.Running(existingPid) {
		fmt.Printf("%d already running\n", existingPid)
		return nil
	}
	if len(confFiles) == 0 {
		return fmt.Errorf("no configuration found")
	}
	return supervisor.Daemonize(pidPath, keepStdio)
}

// cmdRestart implements spec §4.1's handoff protocol: it daemonizes the
// new process first and then, if an old process was running, sends that
// one a SIGHUP one second later and waits (up to pidfile.WaitTime) for
// it to exit. The new process meanwhile binds the listening sockets,
// retrying for up to listen_retry seconds (internal/listener) until the
// old one releases them.
func cmdRestart(ctx context.Context) error {
	if supervisor.IsDaemonizedChild() {
		return runForeground(ctx)
	}
	if len(confFiles) == 0 {
		return fmt.Errorf("no configuration found")
	}
	existingPid, err := pidfile.Read(pidPath)
	if err != nil {
		return err
	}
	oldRunning := pidfile.Running(existingPid)
	if err := supervisor.Daemonize(pidPath, keepStdio); err != nil {
		return err
	}
	if oldRunning {
		if err := supervisor.Handoff(pidPath, existingPid); err != nil {
			return fmt.Errorf("handoff: old brimd %d did not exit in time: %w", existingPid, err)
		}
	}
	return nil
}

// cmdShutdown sends SIGHUP (graceful: drain in-flight work, then exit).
func cmdShutdown() error {
	return pidfile.SignalAndWaitExit(pidPath, syscall.SIGHUP, 0)
}

// cmdStop sends SIGTERM (immediate shutdown).
func cmdStop() error {
	return pidfile.SignalAndWaitExit(pidPath, syscall.SIGTERM, 0)
}

// cmdStatus reports one of the three exact message forms of
// original_source/brim/server.py's status command.
func cmdStatus() error {
	pid, err := pidfile.Read(pidPath)
	if err != nil {
		return err
	}
	switch {
	case pidfile.Running(pid):
		fmt.Printf("%d is running\n", pid)
	case pid != 0:
		fmt.Printf("%d is not running\n", pid)
	default:
		fmt.Println("not running")
	}
	return nil
}
