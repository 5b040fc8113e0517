package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pthm-cable/cellsim/config"
	"github.com/pthm-cable/cellsim/sim"
	"github.com/pthm-cable/cellsim/systems"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOpts struct {
	configPath string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &globalOpts{}

	cmd := &cobra.Command{
		Use:           "cellsim",
		Short:         "Particle-based reaction-diffusion simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.yaml (empty = use defaults)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "Log output format: json or text")

	cmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
	)
	return cmd
}

type runOpts struct {
	seed        int64
	iterations  int64
	outputDir   string
	snapshotDir string
	metricsAddr string
	logStats    bool
}

func addRunFlags(fs *pflag.FlagSet, o *runOpts) {
	fs.Int64Var(&o.seed, "seed", 0, "RNG seed (0 = use config)")
	fs.Int64Var(&o.iterations, "iterations", 0, "Iterations to run (0 = use config)")
	fs.StringVar(&o.outputDir, "output-dir", "", "Output directory for CSV logs and config snapshot")
	fs.StringVar(&o.snapshotDir, "snapshot-dir", "", "Directory for snapshot files")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve /metrics and /stream on this address")
	fs.BoolVar(&o.logStats, "log-stats", false, "Output window stats via slog")
}

func newRunCommand(g *globalOpts) *cobra.Command {
	o := &runOpts{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger(cmd.OutOrStderr(), g.logFormat)
			if err != nil {
				return err
			}
			if err := config.Init(g.configPath); err != nil {
				logger.Error("failed to load config", "error", err)
				return err
			}

			s, err := sim.NewSimulation(config.Cfg(), sim.Options{
				Seed:        o.seed,
				Iterations:  o.iterations,
				LogStats:    o.logStats,
				OutputDir:   o.outputDir,
				SnapshotDir: o.snapshotDir,
				MetricsAddr: o.metricsAddr,
				Logger:      logger,
			})
			if err != nil {
				reportRunError(logger, err)
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = s.Run(ctx)
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				return nil
			default:
				reportRunError(logger, err)
				return err
			}
		},
	}
	addRunFlags(cmd.Flags(), o)
	return cmd
}

func newValidateCommand(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config and build the model without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			m, err := sim.BuildModel(cfg)
			if err != nil {
				return err
			}
			walls, regions := 0, 0
			if m.Geom != nil {
				walls, regions = len(m.Geom.Walls), len(m.Geom.Regions)
			}
			molecules := 0
			for _, r := range m.Releases {
				molecules += r.Number
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"ok: %d species, %d reactions, %d walls, %d regions, %d subpartitions, %d releases (%d molecules)\n",
				len(m.Species), len(m.Net.RuleNames()), walls, regions, m.Part.NumSubparts(), len(m.Releases), molecules)
			return nil
		},
	}
}

// setupLogger installs the default slog handler.
func setupLogger(w io.Writer, format string) (*slog.Logger, error) {
	var h slog.Handler
	switch format {
	case "json", "":
		h = slog.NewJSONHandler(w, nil)
	case "text":
		h = slog.NewTextHandler(w, nil)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

// reportRunError logs engine failures with the offending indices.
func reportRunError(logger *slog.Logger, err error) {
	var fatal *systems.FatalError
	if errors.As(err, &fatal) {
		logger.Error("fatal engine error",
			"kind", fatal.Kind.String(),
			"molecule", fatal.Molecule,
			"wall", fatal.Wall,
			"object", fatal.Object,
			"error", err,
		)
		return
	}
	logger.Error("simulation failed", "error", err)
}
