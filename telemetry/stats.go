package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for an iteration window.
type WindowStats struct {
	WindowStart int64   `csv:"-" json:"window_start"`
	WindowEnd   int64   `csv:"window_end" json:"window_end"`
	SimTimeSec  float64 `csv:"sim_time" json:"sim_time"`

	// Live molecules at window end
	Live int `csv:"live" json:"live"`

	// Collisions tested during window
	VolVolCollisions   int `csv:"vol_vol" json:"vol_vol"`
	VolSurfCollisions  int `csv:"vol_surf" json:"vol_surf"`
	SurfSurfCollisions int `csv:"surf_surf" json:"surf_surf"`
	VolWallCollisions  int `csv:"vol_wall" json:"vol_wall"`
	UnimolCollisions   int `csv:"unimol" json:"unimol"`

	// Reaction outcomes during window
	Reactions        int `csv:"reactions" json:"reactions"`
	Blocked          int `csv:"blocked" json:"blocked"`
	Missed           int `csv:"missed" json:"missed"`
	RetriesExhausted int `csv:"retries_exhausted" json:"retries_exhausted"`
	Absorbed         int `csv:"absorbed" json:"absorbed"`
	Reflections      int `csv:"reflections" json:"reflections"`

	// Volume displacement distribution since the previous window (um)
	DispMean float64 `csv:"disp_mean" json:"disp_mean"`
	DispStd  float64 `csv:"disp_std" json:"disp_std"`
	DispP50  float64 `csv:"disp_p50" json:"disp_p50"`
	DispP90  float64 `csv:"disp_p90" json:"disp_p90"`
	DispMax  float64 `csv:"disp_max" json:"disp_max"`

	Species        []SpeciesCount  `csv:"-" json:"species"`
	ReactionCounts []ReactionCount `csv:"-" json:"reaction_counts"`
}

// SpeciesCount is one row of molecule_counts.csv.
type SpeciesCount struct {
	Iteration int64   `csv:"iteration" json:"-"`
	SimTime   float64 `csv:"sim_time" json:"-"`
	Species   string  `csv:"species" json:"species"`
	Count     int     `csv:"count" json:"count"`
}

// ReactionCount is one row of reaction_counts.csv.
type ReactionCount struct {
	Iteration int64   `csv:"iteration" json:"-"`
	SimTime   float64 `csv:"sim_time" json:"-"`
	Reaction  string  `csv:"reaction" json:"reaction"`
	Count     int     `csv:"count" json:"count"`
	Total     int64   `csv:"total" json:"total"`
}

// Count returns the live count of the named species, 0 when absent.
func (s WindowStats) Count(species string) int {
	for _, sc := range s.Species {
		if sc.Species == species {
			return sc.Count
		}
	}
	return 0
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDisplacementStats calculates mean, sample standard deviation,
// percentiles and maximum of displacement lengths.
func ComputeDisplacementStats(values []float64) (mean, std, p50, p90, peak float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}
	if n == 1 {
		return values[0], 0, values[0], values[0], values[0]
	}

	mean, std = stat.MeanStdDev(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	peak = floats.Max(sorted)

	return mean, std, p50, p90, peak
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("window_start", s.WindowStart),
		slog.Int64("window_end", s.WindowEnd),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("live", s.Live),
		slog.Int("vol_vol", s.VolVolCollisions),
		slog.Int("vol_surf", s.VolSurfCollisions),
		slog.Int("surf_surf", s.SurfSurfCollisions),
		slog.Int("vol_wall", s.VolWallCollisions),
		slog.Int("unimol", s.UnimolCollisions),
		slog.Int("reactions", s.Reactions),
		slog.Int("blocked", s.Blocked),
		slog.Int("missed", s.Missed),
		slog.Int("retries_exhausted", s.RetriesExhausted),
		slog.Int("absorbed", s.Absorbed),
		slog.Int("reflections", s.Reflections),
		slog.Float64("disp_mean", s.DispMean),
		slog.Float64("disp_std", s.DispStd),
	}
	for _, sc := range s.Species {
		attrs = append(attrs, slog.Int("n_"+sc.Species, sc.Count))
	}
	return slog.GroupValue(attrs...)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	args := []any{
		"window_end", s.WindowEnd,
		"sim_time", s.SimTimeSec,
		"live", s.Live,
		"reactions", s.Reactions,
		"blocked", s.Blocked,
		"missed", s.Missed,
		"reflections", s.Reflections,
		"disp_mean", s.DispMean,
	}
	for _, sc := range s.Species {
		args = append(args, "n_"+sc.Species, sc.Count)
	}
	slog.Info("stats", args...)
}
