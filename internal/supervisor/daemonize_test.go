package supervisor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsDaemonizedChild(t *testing.T) {
	require.False(t, IsDaemonizedChild())

	require.NoError(t, os.Setenv(daemonizedEnvVar, "1"))
	defer os.Unsetenv(daemonizedEnvVar)
	require.True(t, IsDaemonizedChild())
}

func TestDaemonizeWritesPidFileForChild(t *testing.T) {
	pidPath := t.TempDir() + "/brimd.pid"

	// Daemonize re-execs the current test binary itself; point it at a
	// fast, side-effect-free subcommand of the test binary so the
	// "child" exits immediately rather than re-running the whole suite.
	if os.Getenv("BRIMD_DAEMONIZE_CHILD_PROBE") == "1" {
		return
	}
	t.Setenv("BRIMD_DAEMONIZE_CHILD_PROBE", "1")
	os.Args = []string{os.Args[0], "-test.run=TestDaemonizeWritesPidFileForChild"}

	err := Daemonize(pidPath, false)
	require.NoError(t, err)

	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
