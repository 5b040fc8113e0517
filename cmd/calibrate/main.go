// Package main calibrates reaction rates with CMA-ES so that simulated
// molecule counts settle at given targets.
package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/cellsim/config"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

type calibrateOpts struct {
	configPath string
	params     []string
	targets    []string
	iterations int64
	seeds      int
	maxEvals   int
	population int
	outputDir  string
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	o := &calibrateOpts{}
	cmd := &cobra.Command{
		Use:          "calibrate",
		Short:        "Fit reaction rates to target molecule counts",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&o.configPath, "config", "", "Base config YAML file (empty = use defaults)")
	fs.StringArrayVar(&o.params, "param", nil, "Rate to fit as rule:min:max (repeatable)")
	fs.StringArrayVar(&o.targets, "target", nil, "Target settled count as species=count (repeatable)")
	fs.Int64Var(&o.iterations, "iterations", 0, "Iterations per run (0 = use config)")
	fs.IntVar(&o.seeds, "seeds", 3, "Number of seeds per evaluation")
	fs.IntVar(&o.maxEvals, "max-evals", 100, "Maximum number of evaluations")
	fs.IntVar(&o.population, "population", 0, "CMA-ES population size (0 = auto)")
	fs.StringVar(&o.outputDir, "output", "", "Output directory for results")
	return cmd
}

func run(o *calibrateOpts) error {
	if o.outputDir == "" {
		return fmt.Errorf("--output is required")
	}
	if len(o.params) == 0 || len(o.targets) == 0 {
		return fmt.Errorf("at least one --param and one --target are required")
	}
	if err := os.MkdirAll(o.outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	baseCfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	params := &ParamVector{}
	for _, s := range o.params {
		spec, err := ParseParamSpec(s, baseCfg)
		if err != nil {
			return err
		}
		params.Specs = append(params.Specs, spec)
	}
	var targets []Target
	for _, s := range o.targets {
		t, err := ParseTarget(s)
		if err != nil {
			return err
		}
		if _, ok := baseCfg.Derived.SpeciesIndex[t.Species]; !ok {
			return fmt.Errorf("target %q: unknown species", s)
		}
		targets = append(targets, t)
	}

	evalSeeds := make([]int64, o.seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}

	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	evaluator := NewFitnessEvaluator(params, targets, o.iterations, evalSeeds, baseCfg, quiet)

	dim := params.Dim()
	initX := params.Normalize(params.DefaultVector())

	popSize := o.population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}

	logPath := filepath.Join(o.outputDir, "calibrate_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	defer logFile.Close()

	logWriter := csv.NewWriter(logFile)
	defer logWriter.Flush()

	header := []string{"eval", "fitness"}
	for _, spec := range params.Specs {
		header = append(header, spec.Rule)
	}
	logWriter.Write(header)

	evalCount := 0
	bestFitness := 1e300
	var bestRates []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			rates := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(rates)
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestRates = rates
			}

			row := []string{strconv.Itoa(evalCount), strconv.FormatFloat(fitness, 'g', 6, 64)}
			for _, v := range rates {
				row = append(row, strconv.FormatFloat(v, 'g', 6, 64))
			}
			logWriter.Write(row)
			logWriter.Flush()

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(o.maxEvals-evalCount) * avgPerEval
			fmt.Printf("Eval %d/%d: fitness=%.4g (best=%.4g) | elapsed: %s, ETA: %s\n",
				evalCount, o.maxEvals, fitness, bestFitness,
				formatDuration(elapsed), formatDuration(remaining))
			return fitness
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: o.maxEvals,
		Concurrent:      0,
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}

	fmt.Printf("Starting CMA-ES calibration with %d rates, population=%d, max_evals=%d\n", dim, popSize, o.maxEvals)
	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		fmt.Printf("calibration ended: %v\n", err)
	}
	if bestRates == nil && result != nil {
		bestRates = params.Clamp(params.Denormalize(result.X))
	}
	if bestRates == nil {
		return fmt.Errorf("no evaluation completed")
	}

	fmt.Printf("\nCalibration complete after %d evaluations in %s\n", evalCount, formatDuration(time.Since(startTime)))
	fmt.Printf("Best fitness: %.4g\n", bestFitness)
	fmt.Println("\nBest rates:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6g\n", spec.Rule, bestRates[i])
	}
	if means := evaluator.BestMeans(); means != nil {
		fmt.Println("\nSettled counts:")
		for _, name := range sortedNames(means) {
			fmt.Printf("  %s: %.1f\n", name, means[name])
		}
	}

	bestCfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	params.ApplyToConfig(bestCfg, bestRates)
	configOutPath := filepath.Join(o.outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		return fmt.Errorf("writing best config: %w", err)
	}
	fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	return nil
}
