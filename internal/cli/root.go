// Package cli wires the analysis pipelines to the command line. Commands
// only parse flags, load layers and call the orchestrating operations; the
// per-tile workers stay internal to the pipeline packages.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"urban_analysis/internal/config"
	"urban_analysis/internal/core"
	"urban_analysis/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "urban-analysis",
	Short: "Tiled remote-sensing pipelines for buildings, green roofs and trees",
	Long: `urban-analysis extracts buildings, roof vegetation and individual
trees from aerial imagery and LiDAR-derived surface models, and detects
changes against reference layers. All pipelines run tiled with bounded
parallelism.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	verbose    bool
	memoryMB   int
	nprocs     int
	tileSize   float64
	failFast   bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to the TOML configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.IntVar(&memoryMB, "memory", 300, "memory budget in MB, divided among workers")
	pf.IntVar(&nprocs, "nprocs", -2, "parallel workers; non-positive means cores minus N")
	pf.Float64Var(&tileSize, "tile-size", 1000, "tile edge length in map units")
	pf.BoolVar(&failFast, "fail-fast", false, "abort the run on the first failing tile")
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger := logging.Default()
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return logging.New(os.Stderr, verbose)
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func dispatchOptions() core.DispatchOptions {
	policy := core.ContinueOnError
	if failFast {
		policy = core.FailFast
	}
	return core.DispatchOptions{
		NProcs:   nprocs,
		MemoryMB: memoryMB,
		Policy:   policy,
	}
}
