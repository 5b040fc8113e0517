package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pthm-cable/cellsim/config"
	"github.com/pthm-cable/cellsim/sim"
	"github.com/pthm-cable/cellsim/telemetry"
)

// Target is a desired mean molecule count over the settled part of a run.
type Target struct {
	Species string
	Count   float64
}

// ParseTarget parses "species=count".
func ParseTarget(s string) (Target, error) {
	name, val, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return Target{}, fmt.Errorf("target %q: want species=count", s)
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil || n < 0 {
		return Target{}, fmt.Errorf("target %q: count must be a non-negative number", s)
	}
	return Target{Species: name, Count: n}, nil
}

// settleFraction is the leading share of windows ignored as transient.
const settleFraction = 0.5

// FitnessEvaluator runs simulations and scores them against targets.
type FitnessEvaluator struct {
	params     *ParamVector
	targets    []Target
	seeds      []int64
	iterations int64
	baseConfig *config.Config
	log        *slog.Logger

	mu          sync.Mutex
	bestFitness float64
	bestMeans   map[string]float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, targets []Target, iterations int64, seeds []int64, baseCfg *config.Config, log *slog.Logger) *FitnessEvaluator {
	if log == nil {
		log = slog.Default()
	}
	return &FitnessEvaluator{
		params:      params,
		targets:     targets,
		seeds:       seeds,
		iterations:  iterations,
		baseConfig:  baseCfg,
		log:         log,
		bestFitness: math.Inf(1),
	}
}

// BestMeans returns the settled counts of the best evaluation so far.
func (fe *FitnessEvaluator) BestMeans() map[string]float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestMeans
}

// Evaluate computes fitness for a rate vector (lower = better). All seeds
// run in parallel; a failed run scores +Inf.
func (fe *FitnessEvaluator) Evaluate(rates []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, rates)

	results := make([][]telemetry.WindowStats, len(fe.seeds))
	errs := make([]error, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx], errs[idx] = fe.runSimulation(cfg, s)
		}(i, seed)
	}
	wg.Wait()

	means := make(map[string]float64, len(fe.targets))
	for i, windows := range results {
		if errs[i] != nil {
			fe.log.Warn("calibration run failed", "seed", fe.seeds[i], "error", errs[i])
			return math.Inf(1)
		}
		for name, m := range settledMeans(windows, fe.targets) {
			means[name] += m / float64(len(fe.seeds))
		}
	}
	fitness := computeFitness(means, fe.targets)

	fe.mu.Lock()
	if fitness < fe.bestFitness {
		fe.bestFitness = fitness
		fe.bestMeans = means
	}
	fe.mu.Unlock()

	return fitness
}

// runSimulation executes one run and returns its flushed windows.
func (fe *FitnessEvaluator) runSimulation(cfg *config.Config, seed int64) ([]telemetry.WindowStats, error) {
	var windows []telemetry.WindowStats
	s, err := sim.NewSimulation(cfg, sim.Options{
		Seed:       seed,
		Iterations: fe.iterations,
		Logger:     fe.log,
		StatsCallback: func(stats telemetry.WindowStats) {
			windows = append(windows, stats)
		},
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()
	if err := s.Run(context.Background()); err != nil {
		return nil, err
	}
	return windows, nil
}

// copyConfig returns a copy of the base config whose rules can be mutated.
// Derived tables are shared; simulations only read them.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Rules = append([]config.RuleConfig(nil), fe.baseConfig.Rules...)
	return &cfg
}

// settledMeans averages each target species over the windows after the
// transient.
func settledMeans(windows []telemetry.WindowStats, targets []Target) map[string]float64 {
	out := make(map[string]float64, len(targets))
	start := int(float64(len(windows)) * settleFraction)
	settled := windows[start:]
	if len(settled) == 0 {
		return out
	}
	for _, t := range targets {
		var sum float64
		for _, w := range settled {
			sum += float64(w.Count(t.Species))
		}
		out[t.Species] = sum / float64(len(settled))
	}
	return out
}

// computeFitness is the mean squared relative error across targets. Targets
// below one molecule are compared in absolute terms.
func computeFitness(means map[string]float64, targets []Target) float64 {
	if len(targets) == 0 {
		return 0
	}
	var sum float64
	for _, t := range targets {
		d := (means[t.Species] - t.Count) / math.Max(t.Count, 1)
		sum += d * d
	}
	return sum / float64(len(targets))
}

// sortedNames returns map keys in order, for stable output.
func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
