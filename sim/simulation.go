// Package sim wires the model, the engine and telemetry into a runnable
// simulation.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/config"
	"github.com/pthm-cable/cellsim/rng"
	"github.com/pthm-cable/cellsim/systems"
	"github.com/pthm-cable/cellsim/telemetry"
)

// Options configures a simulation beyond the model config.
type Options struct {
	Seed        int64 // 0 = simulation.seed from config
	Iterations  int64 // 0 = simulation.iterations from config
	LogStats    bool
	OutputDir   string
	SnapshotDir string
	// MetricsAddr overrides server.addr when set.
	MetricsAddr string
	Logger      *slog.Logger
	// StatsCallback, if set, receives every flushed window.
	StatsCallback func(telemetry.WindowStats)
}

// Simulation holds the complete run state.
type Simulation struct {
	cfg    *config.Config
	model  *Model
	engine *systems.Engine
	rng    *rng.RNG
	log    *slog.Logger

	seed       int64
	iterations int64
	iteration  int64
	dt         float64

	// Telemetry
	collector        *telemetry.Collector
	perfCollector    *telemetry.PerfCollector
	bookmarkDetector *telemetry.BookmarkDetector
	outputManager    *telemetry.OutputManager
	metrics          *telemetry.Metrics
	stream           *telemetry.Stream
	logStats         bool
	snapshotDir      string
	statsCallback    func(telemetry.WindowStats)

	// Volume positions at the previous flush, by molecule id
	lastPos map[components.MoleculeID]r3.Vec
	counts  []int

	serverAddr string
	server     *http.Server
	listener   net.Listener
}

// NewSimulation builds the model from cfg and wires the engine and
// telemetry.
func NewSimulation(cfg *config.Config, opts Options) (*Simulation, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	model, err := BuildModel(cfg)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Simulation.Seed
	}
	iterations := opts.Iterations
	if iterations == 0 {
		iterations = cfg.Simulation.Iterations
	}

	s := &Simulation{
		cfg:         cfg,
		model:       model,
		rng:         rng.New(seed),
		log:         log,
		seed:        seed,
		iterations:  iterations,
		dt:          cfg.Simulation.TimeStep,
		logStats:    opts.LogStats,
		snapshotDir: opts.SnapshotDir,
		lastPos:     make(map[components.MoleculeID]r3.Vec),

		statsCallback: opts.StatsCallback,
	}

	s.collector = telemetry.NewCollector(cfg.Telemetry.StatsWindow, s.dt)
	s.perfCollector = telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow)
	s.bookmarkDetector = telemetry.NewBookmarkDetector(cfg.Telemetry.BookmarkHistorySize)
	s.metrics = telemetry.NewMetrics()

	s.engine = systems.NewEngine(model.Part, model.Net, s.rng, systems.Params{
		TimeStep:          s.dt,
		RxRadius3D:        cfg.Reactions.VolRxRadius,
		Epsilon:           cfg.Geometry.Epsilon,
		ProductBump:       cfg.Geometry.ProductBump,
		MaxSurfaceRetries: cfg.Surface.MaxDiffusionRetries,
		MaxEdgeCrossings:  cfg.Surface.MaxEdgeCrossings,
		MaxWallHits:       cfg.Reactions.MaxWallHits,
		RefBindingFactor:  cfg.Geometry.SurfaceGridDensity,
	}, s.collector, log)

	s.outputManager, err = telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := s.outputManager.WriteConfig(cfg); err != nil {
		s.outputManager.Close()
		return nil, err
	}
	if err := s.outputManager.WriteManifest(s.manifest()); err != nil {
		s.outputManager.Close()
		return nil, err
	}

	s.serverAddr = cfg.Server.Addr
	if opts.MetricsAddr != "" {
		s.serverAddr = opts.MetricsAddr
	}
	if s.serverAddr != "" {
		s.stream = telemetry.NewStream(log)
	}

	return s, nil
}

func (s *Simulation) manifest() telemetry.RunManifest {
	species := make([]string, len(s.model.Species))
	for i, sp := range s.model.Species {
		species[i] = sp.Name
	}
	walls := 0
	if s.model.Geom != nil {
		walls = len(s.model.Geom.Walls)
	}
	return telemetry.RunManifest{
		StartedAt:  time.Now().UTC(),
		Seed:       s.seed,
		Iterations: s.iterations,
		TimeStep:   s.dt,
		Species:    species,
		Reactions:  s.model.Net.RuleNames(),
		Walls:      walls,
		Subparts:   s.model.Part.NumSubparts(),
	}
}

// Step advances the simulation by one iteration: due releases, the
// Diffuse-React event, counting, telemetry and periodic compaction.
func (s *Simulation) Step() error {
	s.perfCollector.StartStep()
	stepStart := float64(s.iteration) * s.dt

	s.perfCollector.StartPhase(telemetry.PhaseRelease)
	if _, err := releaseDue(s.model.Part, s.rng, s.model.Releases, stepStart, s.dt); err != nil {
		return err
	}

	s.perfCollector.StartPhase(telemetry.PhaseDiffuseReact)
	if err := s.engine.Step(stepStart); err != nil {
		return err
	}
	s.iteration++

	s.perfCollector.StartPhase(telemetry.PhaseCounting)
	s.counts = s.model.Part.Counts(s.counts)

	s.perfCollector.StartPhase(telemetry.PhaseOutput)
	s.flushTelemetry()
	if every := s.cfg.Telemetry.SnapshotEvery; every > 0 && s.iteration%every == 0 {
		s.saveSnapshot(nil)
	}

	s.perfCollector.StartPhase(telemetry.PhaseCompaction)
	if every := s.cfg.Telemetry.CompactEvery; every > 0 && s.iteration%every == 0 {
		if n := s.model.Part.Compact(); n > 0 {
			s.log.Debug("compacted molecule store", "reclaimed", n, "iteration", s.iteration)
		}
	}

	s.perfCollector.EndStep(telemetry.StepWork{Actions: s.engine.QueueLen(), Molecules: s.engine.Visited()})
	return nil
}

// Run steps until the configured iteration count is reached or ctx is
// cancelled. Cancellation is checked between steps and returns ctx.Err().
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.startServer(); err != nil {
		return err
	}
	defer s.stopServer()

	s.log.Info("starting simulation",
		"seed", s.seed,
		"iterations", s.iterations,
		"time_step", s.dt,
		"run_id", s.outputManager.RunID(),
	)
	started := time.Now()

	for s.iteration < s.iterations {
		select {
		case <-ctx.Done():
			s.log.Info("simulation cancelled", "iteration", s.iteration)
			return ctx.Err()
		default:
		}
		if err := s.Step(); err != nil {
			return fmt.Errorf("iteration %d: %w", s.iteration, err)
		}
	}

	s.log.Info("simulation finished",
		"iteration", s.iteration,
		"live", s.model.Part.NumLive(),
		"elapsed", time.Since(started),
	)
	return nil
}

// startServer serves /metrics and /stream when an address is configured.
func (s *Simulation) startServer() error {
	if s.serverAddr == "" || s.server != nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/stream", s.stream)

	ln, err := net.Listen("tcp", s.serverAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.serverAddr, err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("telemetry server stopped", "error", err)
		}
	}()
	s.log.Info("serving telemetry", "addr", ln.Addr().String())
	return nil
}

func (s *Simulation) stopServer() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn("telemetry server shutdown", "error", err)
	}
	s.server = nil
}

// Close releases output files and stream clients.
func (s *Simulation) Close() error {
	s.stopServer()
	if s.stream != nil {
		s.stream.Close()
	}
	return s.outputManager.Close()
}

// Iteration returns the number of completed iterations.
func (s *Simulation) Iteration() int64 { return s.iteration }

// Time returns the simulated time at the end of the last iteration.
func (s *Simulation) Time() float64 { return float64(s.iteration) * s.dt }

// Model exposes the built model.
func (s *Simulation) Model() *Model { return s.model }

// Metrics exposes the Prometheus collectors.
func (s *Simulation) Metrics() *telemetry.Metrics { return s.metrics }

// Collector exposes the window collector.
func (s *Simulation) Collector() *telemetry.Collector { return s.collector }

// Count returns the live count of the named species, -1 if unknown.
func (s *Simulation) Count(name string) int {
	id, ok := s.model.Net.SpeciesByName(name)
	if !ok {
		return -1
	}
	return s.model.Part.Count(id)
}
