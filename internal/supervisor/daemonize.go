package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/brimdotnet/brimd/internal/pidfile"
)

// daemonizedEnvVar marks a re-exec'd child as already detached, so it
// does not try to daemonize itself again.
const daemonizedEnvVar = "BRIMD_DAEMONIZED"

// IsDaemonizedChild reports whether the current process is the
// detached child produced by Daemonize, as opposed to the original
// foreground invocation.
func IsDaemonizedChild() bool {
	return os.Getenv(daemonizedEnvVar) == "1"
}

// Daemonize implements spec §4.1 step 7 ("daemonize: background the
// process, detach from the controlling terminal") the only way a Go
// binary can: by re-executing itself in a new session, rather than
// Unix fork(2) (original_source/brim/server.py used os.fork + os.setsid
// directly; this is the self re-exec idiom pack examples use for
// launching detached subprocesses, e.g.
// other_examples/terraphim-ntm's supervisor, adapted here to
// detach from the CURRENT process rather than a managed one).
//
// On success the parent writes the child's PID to pidPath and returns
// nil; cmd/brimd then exits 0 (restart first runs the handoff of the
// old process). The
// child inherits os.Args and the environment plus daemonizedEnvVar, so
// re-running the same command line in the child is a no-op loop
// (IsDaemonizedChild short-circuits it in cmd/brimd).
func Daemonize(pidPath string, keepStdio bool) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("supervisor: daemonize: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if keepStdio {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("supervisor: daemonize: %w", err)
		}
		defer devNull.Close()
		cmd.Stdout = devNull
		cmd.Stderr = devNull
		cmd.Stdin = devNull
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: daemonize: %w", err)
	}
	if err := pidfile.Write(pidPath, cmd.Process.Pid); err != nil {
		return fmt.Errorf("supervisor: daemonize: %w", err)
	}
	return cmd.Process.Release()
}
