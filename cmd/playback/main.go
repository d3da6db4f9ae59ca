// Command playback steps through sorting algorithms in the terminal at a
// controllable pace, records runs for replay and serves them as NDJSON step
// streams.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	db         string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "playback",
		Short:        "Step through algorithms at a controllable pace",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&g.db, "db", "", "run history DSN (overrides config)")

	root.AddCommand(
		algorithmsCmd(),
		playCmd(g),
		runsCmd(g),
		replayCmd(g),
		deleteCmd(g),
		serveCmd(g),
	)
	return root
}

// load reads the config file and applies the persistent flags.
func (g *globalFlags) load() (cliConfig, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return cliConfig{}, err
	}
	if g.db != "" {
		cfg.Store.DSN = g.db
	}
	return cfg, cfg.validate()
}
