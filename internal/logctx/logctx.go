// Package logctx wires brimd's structured logging: global zerolog setup,
// per-request child loggers carrying a correlation id ("txn"), and the
// stdout/stderr/uncaught-panic capture used once a supervisor has
// daemonized.
package logctx

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Init replaces it.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

// Config controls Init.
type Config struct {
	Level      string // debug|info|warn|error, per the brim log_level option
	Name       string // log_name, attached as the "server" field
	JSONOutput bool
	Output     io.Writer
}

// Init (re)configures the global logger. Matches the teacher's
// log.Init(log.Config{...}) shape.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var base zerolog.Logger
	if cfg.JSONOutput {
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	}
	if cfg.Name != "" {
		base = base.With().Str("server", cfg.Name).Logger()
	}
	Logger = base
}

// WithRole returns a child logger tagged with a role:id pair, e.g.
// "wid:003", matching the role tags of spec §4.7.
func WithRole(role string, id int) zerolog.Logger {
	return Logger.With().Str("role", fmt.Sprintf("%s:%03d", role, id)).Logger()
}

// NewTxn generates a fresh 32-lowercase-hex-character correlation id, one
// per HTTP request (spec §3, §4.3 step 1).
func NewTxn() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// InstallCapture replaces stdout/stderr with sinks that forward completed
// lines to the logger (stdout at info, stderr at error level). It installs
// no panic handler; the single-line "UNCAUGHT EXCEPTION: role:id type:
// msg [frames]" record of spec §4.7 comes from RecoverUncaught, which
// each worker defers itself. It returns a restore function for tests.
func InstallCapture(role string, id int) (restore func()) {
	logger := WithRole(role, id)
	stdoutR, stdoutW, _ := os.Pipe()
	stderrR, stderrW, _ := os.Pipe()
	origOut, origErr := os.Stdout, os.Stderr
	os.Stdout, os.Stderr = stdoutW, stderrW

	done := make(chan struct{}, 2)
	go pumpLines(stdoutR, func(line string) { logger.Info().Msg(line) }, done)
	go pumpLines(stderrR, func(line string) { logger.Error().Msg(line) }, done)

	return func() {
		os.Stdout, os.Stderr = origOut, origErr
		stdoutW.Close()
		stderrW.Close()
		<-done
		<-done
	}
}

func pumpLines(r *os.File, emit func(string), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := indexByte(buf, '\n')
				if idx < 0 {
					break
				}
				emit(string(buf[:idx]))
				buf = buf[idx+1:]
			}
		}
		if err != nil {
			if len(buf) > 0 {
				emit(string(buf))
			}
			return
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// RecoverUncaught is deferred at the top of every worker goroutine's main
// loop. On panic it logs the single-line uncaught-exception record and
// sets *exited to true so the caller's respawn logic (spec §4.1, §7)
// can treat the goroutine as having exited abnormally -- without
// re-panicking, since an unrecovered panic in any one goroutine would
// crash the whole brimd process, not just that worker.
func RecoverUncaught(role string, id int, exited *bool) {
	if r := recover(); r != nil {
		*exited = true
		frames := condenseStack(debug.Stack())
		WithRole(role, id).Error().Msgf("UNCAUGHT EXCEPTION: %s:%03d %T: %v [%s]", role, id, r, r, frames)
	}
}

func condenseStack(stack []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	return strings.Join(lines, " | ")
}
