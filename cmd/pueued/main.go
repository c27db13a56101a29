// Command pueued is the daemon entrypoint: it loads configuration,
// opens the task/log/audit stores, binds the transport, and runs the
// scheduler loop until shutdown.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"go.pueued.dev/pueued/internal/config"
	"go.pueued.dev/pueued/internal/core"
	"go.pueued.dev/pueued/internal/daemon"
)

func main() {
	var configPath string
	var verbose bool

	root := &cobra.Command{
		Use:     "pueued",
		Short:   "pueued is a personal command queue daemon",
		Version: core.FormatVersion(core.Version),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: time.DateTime,
			})))

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			os.Exit(daemon.Run(cfg))
			return nil
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the daemon's HCL configuration file")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
