package telemetry

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Phase is one stage of a simulation iteration.
type Phase int

const (
	PhaseRelease Phase = iota
	PhaseDiffuseReact
	PhaseCounting
	PhaseOutput
	PhaseCompaction
	numPhases
)

var phaseNames = [numPhases]string{"release", "diffuse_react", "counting", "output", "compaction"}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return "unknown"
	}
	return phaseNames[p]
}

const noPhase Phase = -1

// StepWork is the engine work done by one iteration.
type StepWork struct {
	Actions   int // queue actions drained by the Diffuse-React event
	Molecules int // molecules the event visited
}

// PerfSample holds timing and work for a single iteration.
type PerfSample struct {
	Step   time.Duration
	Phases [numPhases]time.Duration
	Work   StepWork
}

// PerfCollector keeps the most recent samples in a fixed ring.
type PerfCollector struct {
	ring   []PerfSample
	next   int
	filled int

	cur     PerfSample
	open    Phase
	stepAt  time.Time
	phaseAt time.Time
}

// NewPerfCollector returns a collector averaging over windowSize
// iterations; values below one fall back to 60.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{ring: make([]PerfSample, windowSize), open: noPhase}
}

// StartStep begins a new iteration.
func (p *PerfCollector) StartStep() {
	p.stepAt = time.Now()
	p.phaseAt = p.stepAt
	p.cur = PerfSample{}
	p.open = noPhase
}

// StartPhase closes the open phase, if any, and opens ph.
func (p *PerfCollector) StartPhase(ph Phase) {
	p.closePhase(time.Now())
	p.open = ph
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.open >= 0 && p.open < numPhases {
		p.cur.Phases[p.open] += now.Sub(p.phaseAt)
	}
	p.phaseAt = now
}

// EndStep closes the iteration and stores it with the work the engine
// reported for it.
func (p *PerfCollector) EndStep(work StepWork) {
	now := time.Now()
	p.closePhase(now)
	p.open = noPhase
	p.cur.Step = now.Sub(p.stepAt)
	p.cur.Work = work

	p.ring[p.next] = p.cur
	p.next = (p.next + 1) % len(p.ring)
	if p.filled < len(p.ring) {
		p.filled++
	}
}

// PerfStats aggregates the samples in the window.
type PerfStats struct {
	AvgStep time.Duration
	MinStep time.Duration
	MaxStep time.Duration

	PhaseAvg [numPhases]time.Duration
	PhasePct [numPhases]float64 // share of the average step

	StepsPerSecond     float64
	ActionsPerStep     float64
	MoleculesPerSecond float64
}

// Stats computes aggregates over the current window.
func (p *PerfCollector) Stats() PerfStats {
	n := p.filled
	if n == 0 {
		return PerfStats{}
	}

	steps := make([]float64, n)
	actions := make([]float64, n)
	molecules := make([]float64, n)
	var phaseSum [numPhases]time.Duration
	for i, s := range p.ring[:n] {
		steps[i] = float64(s.Step)
		actions[i] = float64(s.Work.Actions)
		molecules[i] = float64(s.Work.Molecules)
		for ph, d := range s.Phases {
			phaseSum[ph] += d
		}
	}

	avg := stat.Mean(steps, nil)
	out := PerfStats{
		AvgStep:        time.Duration(avg),
		MinStep:        time.Duration(floats.Min(steps)),
		MaxStep:        time.Duration(floats.Max(steps)),
		ActionsPerStep: stat.Mean(actions, nil),
	}
	for ph, sum := range phaseSum {
		out.PhaseAvg[ph] = sum / time.Duration(n)
		if avg > 0 {
			out.PhasePct[ph] = float64(out.PhaseAvg[ph]) / avg * 100
		}
	}
	if total := floats.Sum(steps) / float64(time.Second); total > 0 {
		out.StepsPerSecond = float64(n) / total
		out.MoleculesPerSecond = floats.Sum(molecules) / total
	}
	return out
}

// attrs lists the stats as slog attributes; phases at or below minPct are
// left out.
func (s PerfStats) attrs(minPct float64) []slog.Attr {
	a := []slog.Attr{
		slog.Int64("avg_step_us", s.AvgStep.Microseconds()),
		slog.Int64("min_step_us", s.MinStep.Microseconds()),
		slog.Int64("max_step_us", s.MaxStep.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
		slog.Float64("actions_per_step", s.ActionsPerStep),
		slog.Float64("molecules_per_sec", s.MoleculesPerSecond),
	}
	for ph := Phase(0); ph < numPhases; ph++ {
		if s.PhasePct[ph] > minPct {
			a = append(a, slog.Float64(ph.String()+"_pct", s.PhasePct[ph]))
		}
	}
	return a
}

// LogStats logs the window at info level.
func (s PerfStats) LogStats() {
	slog.LogAttrs(context.Background(), slog.LevelInfo, "perf", s.attrs(0.1)...)
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	return slog.GroupValue(s.attrs(0)...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	WindowEnd       int64   `csv:"window_end"`
	AvgStepUS       int64   `csv:"avg_step_us"`
	MinStepUS       int64   `csv:"min_step_us"`
	MaxStepUS       int64   `csv:"max_step_us"`
	StepsPerSec     float64 `csv:"steps_per_sec"`
	ActionsPerStep  float64 `csv:"actions_per_step"`
	MoleculesPerSec float64 `csv:"molecules_per_sec"`
	ReleasePct      float64 `csv:"release_pct"`
	DiffuseReactPct float64 `csv:"diffuse_react_pct"`
	CountingPct     float64 `csv:"counting_pct"`
	OutputPct       float64 `csv:"output_pct"`
	CompactionPct   float64 `csv:"compaction_pct"`
}

// ToCSV flattens s into a perf.csv row.
func (s PerfStats) ToCSV(windowEnd int64) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:       windowEnd,
		AvgStepUS:       s.AvgStep.Microseconds(),
		MinStepUS:       s.MinStep.Microseconds(),
		MaxStepUS:       s.MaxStep.Microseconds(),
		StepsPerSec:     s.StepsPerSecond,
		ActionsPerStep:  s.ActionsPerStep,
		MoleculesPerSec: s.MoleculesPerSecond,
		ReleasePct:      s.PhasePct[PhaseRelease],
		DiffuseReactPct: s.PhasePct[PhaseDiffuseReact],
		CountingPct:     s.PhasePct[PhaseCounting],
		OutputPct:       s.PhasePct[PhaseOutput],
		CompactionPct:   s.PhasePct[PhaseCompaction],
	}
}
