package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/config"
	"github.com/brimdotnet/brimd/internal/pipeline"
)

func TestConstructWSGIUnknownSymbolErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.ConstructWSGI("no.such.Thing", "x", Config{}, NotFound)
	require.Error(t, err)
}

func TestConstructWSGIKnownSymbol(t *testing.T) {
	r := NewRegistry()
	r.RegisterWSGI("test.Echo", func(name string, cfg Config, next pipeline.App) (pipeline.App, error) {
		return NotFound, nil
	})
	app, err := r.ConstructWSGI("test.Echo", "x", Config{}, NotFound)
	require.NoError(t, err)
	require.NotNil(t, app)
}

func TestNotFoundWritesZeroBody404(t *testing.T) {
	rw := httptest.NewRecorder()
	NotFound.ServeBrim(&pipeline.Env{}, rw)
	require.Equal(t, http.StatusNotFound, rw.Code)
	require.Equal(t, "0", rw.Header().Get("Content-Length"))
}

func TestDeclareStatsDefaultsToNil(t *testing.T) {
	r := NewRegistry()
	require.Nil(t, r.DeclareStats("unregistered", "name", Config{}))
}

func TestParseConfigDefaultsToRawSection(t *testing.T) {
	r := NewRegistry()
	path := filepath.Join(t.TempDir(), "brimd.conf")
	require.NoError(t, os.WriteFile(path, []byte("[echo]\npath = /echo\n"), 0o644))
	tree, err := config.Load([]string{path})
	require.NoError(t, err)
	// No parser is registered for the symbol, so the raw [echo] section
	// comes back as the Config.
	cfg, err := r.ParseConfig("unregistered", "echo", tree)
	require.NoError(t, err)
	require.Equal(t, "/echo", cfg.Get("path", "/default"))
	require.Equal(t, "/default", cfg.Get("missing", "/default"))
}
