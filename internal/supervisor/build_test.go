package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/config"
	_ "github.com/brimdotnet/brimd/internal/handler/daemonsample"
	_ "github.com/brimdotnet/brimd/internal/handler/tcpecho"
	_ "github.com/brimdotnet/brimd/internal/handler/udpecho"
	_ "github.com/brimdotnet/brimd/internal/handler/wsgiecho"
)

func writeConf(t *testing.T, body string) *config.Tree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brimd.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	tree, err := config.Load([]string{path})
	require.NoError(t, err)
	return tree
}

func TestBuildConstructsOneSubserverPerKind(t *testing.T) {
	tree := writeConf(t, `
[brim]
wsgi = echo
tcp = tcp_echo
udp = udp_echo
daemons = sample1 sample2
port = 0

[echo]
call = wsgiecho.Echo

[tcp_echo]
call = tcpecho.Echo

[udp_echo]
call = udpecho.Echo

[sample1]
call = daemonsample.Sample

[sample2]
call = daemonsample.Sample
`)

	built, err := Build(context.Background(), tree, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, built.Subservers, 4)
	require.Contains(t, built.Sets, "wsgi")
	require.Contains(t, built.Sets, "tcp")
	require.Contains(t, built.Sets, "udp")
	require.Contains(t, built.Sets, "daemons")
	require.Equal(t, 2, built.Sets["daemons"].WorkerCount())
}

func TestBuildRejectsMultipleTCPHandlers(t *testing.T) {
	tree := writeConf(t, `
[brim]
tcp = tcp_echo tcp_echo2
port = 0

[tcp_echo]
call = tcpecho.Echo

[tcp_echo2]
call = tcpecho.Echo
`)

	_, err := Build(context.Background(), tree, zerolog.Nop())
	require.Error(t, err)
}

func TestBuildSkipsUnconfiguredKinds(t *testing.T) {
	tree := writeConf(t, `
[brim]
wsgi = echo
port = 0

[echo]
call = wsgiecho.Echo
`)

	built, err := Build(context.Background(), tree, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, built.Subservers, 1)
	require.NotContains(t, built.Sets, "tcp")
	require.NotContains(t, built.Sets, "udp")
	require.NotContains(t, built.Sets, "daemons")
}
