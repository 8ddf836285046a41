// Command brimd is the multi-protocol network service container of
// spec §1: a supervisor process that loads a config tree, constructs
// the enumerated subservers, and runs them until signaled.
//
// Grounded on cmd/warren/main.go's cobra command-tree structure,
// generalized to the command surface of original_source/brim/server.py.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/brimdotnet/brimd/internal/handler/daemonsample"
	_ "github.com/brimdotnet/brimd/internal/handler/tcpecho"
	_ "github.com/brimdotnet/brimd/internal/handler/udpecho"
	_ "github.com/brimdotnet/brimd/internal/handler/wsgiecho"
	_ "github.com/brimdotnet/brimd/internal/handler/wsgistats"
)

// Version is set via -ldflags at build time, matching the teacher's
// version-injection convention.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	confFiles []string
	pidPath   string
	keepStdio bool
)

var rootCmd = &cobra.Command{
	Use:           "brimd [COMMAND]",
	Short:         "brimd - a multi-protocol network service container",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForeground(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&confFiles, "conf", "c", nil, "config file (repeatable, in order)")
	rootCmd.PersistentFlags().StringVarP(&pidPath, "pid-file", "p", "/var/run/brimd.pid", "PID file path")
	rootCmd.PersistentFlags().BoolVarP(&keepStdio, "keep-stdio", "o", false, "keep stdout/stderr open in daemon mode")
	rootCmd.Flags().BoolP("version", "v", false, "print version and exit")
	rootCmd.SetVersionTemplate("brimd version {{.Version}}\n")

	rootCmd.AddCommand(noDaemonCmd, startCmd, restartCmd, shutdownCmd, stopCmd, statusCmd)
}

var noDaemonCmd = &cobra.Command{
	Use:   "no-daemon",
	Short: "run in the foreground (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForeground(cmd.Context())
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start brimd as a background daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdStart(cmd.Context())
	},
}

var restartCmd = &cobra.Command{
	Use:     "restart",
	Aliases: []string{"reload", "force-reload"},
	Short:   "hand off to a freshly started brimd, then retire the old one",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdRestart(cmd.Context())
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "gracefully stop the running brimd (SIGHUP, drain in-flight work)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdShutdown()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "immediately stop the running brimd (SIGTERM)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdStop()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report whether brimd is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmdStatus()
	},
}
