// Package telemetry provides reaction and molecule counting, CSV output,
// bookmarking, snapshots, Prometheus metrics and a live WebSocket stream.
package telemetry

import (
	"sort"

	"github.com/pthm-cable/cellsim/systems"
)

// Collector accumulates engine events within iteration windows and produces
// WindowStats. It implements systems.Recorder.
type Collector struct {
	windowDurationSec        float64
	windowDurationIterations int64
	dt                       float64

	// Current window tracking
	windowStart int64

	// Event counters for current window
	collisions       [systems.KindUnimol + 1]int
	reactions        map[string]int
	blocked          int
	missed           int
	retriesExhausted int
	absorbed         int
	reflections      int

	// Cumulative reaction counts since the start of the run
	reactionTotals map[string]int64
}

// NewCollector creates a new stats collector.
// windowDurationSec: how long each stats window lasts in simulation seconds
// dt: seconds per iteration
func NewCollector(windowDurationSec, dt float64) *Collector {
	perWindow := int64(1)
	if dt > 0 {
		perWindow = int64(windowDurationSec/dt + 0.5)
	}
	if perWindow < 1 {
		perWindow = 1
	}

	return &Collector{
		windowDurationSec:        windowDurationSec,
		windowDurationIterations: perWindow,
		dt:                       dt,
		reactions:                make(map[string]int),
		reactionTotals:           make(map[string]int64),
	}
}

// RecordCollision records a tested collision.
func (c *Collector) RecordCollision(kind systems.CollisionKind) {
	if int(kind) < len(c.collisions) {
		c.collisions[kind]++
	}
}

// RecordReaction records a fired reaction pathway.
func (c *Collector) RecordReaction(pathway string) {
	c.reactions[pathway]++
	c.reactionTotals[pathway]++
}

// RecordBlocked records a reaction whose products had nowhere to go.
func (c *Collector) RecordBlocked() {
	c.blocked++
}

// RecordMissed records a collision whose probability exceeded one.
func (c *Collector) RecordMissed() {
	c.missed++
}

// RecordRetriesExhausted records a surface move abandoned after too many
// ambiguous edge crossings.
func (c *Collector) RecordRetriesExhausted() {
	c.retriesExhausted++
}

// RecordAbsorbed records a molecule removed by an absorptive surface.
func (c *Collector) RecordAbsorbed() {
	c.absorbed++
}

// RecordReflection records a wall reflection.
func (c *Collector) RecordReflection() {
	c.reflections++
}

// ShouldFlush returns true if enough iterations have passed to flush the window.
func (c *Collector) ShouldFlush(iteration int64) bool {
	return iteration-c.windowStart >= c.windowDurationIterations
}

// Flush produces a WindowStats and resets counters for the next window.
// The caller provides:
// - iteration: the iteration that just completed
// - simTime: the simulated time at the end of that iteration
// - counts: live molecules per species, in species order
// - displacements: volume molecule displacements since the previous flush
func (c *Collector) Flush(iteration int64, simTime float64, counts []SpeciesCount, displacements []float64) WindowStats {
	dispMean, dispStd, dispP50, dispP90, dispMax := ComputeDisplacementStats(displacements)

	var live, fired int
	for _, sc := range counts {
		live += sc.Count
	}
	names := make([]string, 0, len(c.reactions))
	for name, n := range c.reactions {
		names = append(names, name)
		fired += n
	}
	sort.Strings(names)

	rows := make([]ReactionCount, 0, len(names))
	for _, name := range names {
		rows = append(rows, ReactionCount{
			Iteration: iteration,
			SimTime:   simTime,
			Reaction:  name,
			Count:     c.reactions[name],
			Total:     c.reactionTotals[name],
		})
	}

	species := make([]SpeciesCount, len(counts))
	copy(species, counts)
	for i := range species {
		species[i].Iteration = iteration
		species[i].SimTime = simTime
	}

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   iteration,
		SimTimeSec:  simTime,

		Live: live,

		VolVolCollisions:   c.collisions[systems.KindVolVol],
		VolSurfCollisions:  c.collisions[systems.KindVolSurf],
		SurfSurfCollisions: c.collisions[systems.KindSurfSurf],
		VolWallCollisions:  c.collisions[systems.KindVolWall],
		UnimolCollisions:   c.collisions[systems.KindUnimol],

		Reactions:        fired,
		Blocked:          c.blocked,
		Missed:           c.missed,
		RetriesExhausted: c.retriesExhausted,
		Absorbed:         c.absorbed,
		Reflections:      c.reflections,

		DispMean: dispMean,
		DispStd:  dispStd,
		DispP50:  dispP50,
		DispP90:  dispP90,
		DispMax:  dispMax,

		Species:        species,
		ReactionCounts: rows,
	}

	// Reset for next window
	c.windowStart = iteration
	c.collisions = [systems.KindUnimol + 1]int{}
	c.reactions = make(map[string]int)
	c.blocked = 0
	c.missed = 0
	c.retriesExhausted = 0
	c.absorbed = 0
	c.reflections = 0

	return stats
}

// ReactionTotal returns how often pathway has fired since the run started.
func (c *Collector) ReactionTotal(pathway string) int64 {
	return c.reactionTotals[pathway]
}

// WindowDurationIterations returns the number of iterations per window.
func (c *Collector) WindowDurationIterations() int64 {
	return c.windowDurationIterations
}
