// Package cmd is the cobra CLI surface. Commands translate fault
// kinds to exit codes: 0 success, 1 generic, 2 bad input, 3 not found.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goflock/internal/app"
	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/goflock/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "goflock",
	Short:         "goflock - multi-agent orchestrator",
	Long:          "goflock runs a leader bot and a team of specialists over one message bus, with shared memory, heartbeats, and a learning exchange.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $GOFLOCK_CONFIG_PATH or ~/.goflock/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(howCmd())
	rootCmd.AddCommand(workspaceLogsCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(cronCmd())
	rootCmd.AddCommand(exchangeCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goflock %s\n", Version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return app.NewLogger(cfg.LogLevel)
}

// openStores opens storage without the rest of the app graph, for
// read-mostly commands.
func openStores(cfg *config.Config) (*store.Stores, error) {
	return store.Open(config.ExpandHome(cfg.DataDir))
}

// Execute runs the root command and exits with the fault-mapped code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(fault.ExitCode(err))
	}
}
