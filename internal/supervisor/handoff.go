package supervisor

import (
	"syscall"
	"time"

	"github.com/brimdotnet/brimd/internal/pidfile"
)

// Handoff implements the restart/reload/force-reload path of
// original_source/brim/server.py: "If brimd is already running, fork a
// child to shut it down after a second so we, as the new brimd, can
// grab the port." In place of the forked child, cmd/brimd's restart
// calls Handoff in the invoking process right after Daemonize has
// launched the new brimd; the new process binds (retrying on
// EADDRINUSE) while Handoff sleeps one second before signaling.
//
// pid is the PID read from the PID file before the new process started
// (a signal-0 probe already confirmed the old process is alive);
// Handoff signals that exact PID rather than re-reading the file, since
// the new process will have overwritten it with its own PID by the
// time Handoff's sleep elapses.
func Handoff(pidPath string, pid int) error {
	time.Sleep(time.Second)
	return pidfile.SignalAndWaitExit(pidPath, syscall.SIGHUP, pid)
}
