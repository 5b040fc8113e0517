// Package systems implements the per-timestep diffusion-reaction engine:
// displacement sampling, ray tracing against molecules and walls, reaction
// testing and product placement, and the Diffuse-React work queue.
package systems

import (
	"log/slog"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
	"github.com/pthm-cable/cellsim/rng"
)

// Params are the read-only constants the engine consumes every step.
type Params struct {
	TimeStep float64
	// RxRadius3D is the interaction distance between two volume molecules.
	RxRadius3D float64
	// Epsilon is the geometric tolerance for inside-triangle and edge tests.
	Epsilon float64
	// ProductBump lifts volume products off the wall they were created on.
	ProductBump float64
	// MaxSurfaceRetries bounds the fresh displacements drawn after an
	// ambiguous edge crossing.
	MaxSurfaceRetries int
	// MaxEdgeCrossings bounds the walls a single surface displacement may
	// traverse.
	MaxEdgeCrossings int
	// MaxWallHits bounds reflections within one volume displacement.
	MaxWallHits int
	// RefBindingFactor is the tiles-per-area the surface rates were
	// converted with.
	RefBindingFactor float64
}

// Recorder receives engine events. telemetry.Collector implements it.
type Recorder interface {
	RecordCollision(kind CollisionKind)
	RecordReaction(pathway string)
	RecordBlocked()
	RecordMissed()
	RecordRetriesExhausted()
	RecordAbsorbed()
	RecordReflection()
}

type nopRecorder struct{}

func (nopRecorder) RecordCollision(CollisionKind) {}
func (nopRecorder) RecordReaction(string)         {}
func (nopRecorder) RecordBlocked()                {}
func (nopRecorder) RecordMissed()                 {}
func (nopRecorder) RecordRetriesExhausted()       {}
func (nopRecorder) RecordAbsorbed()               {}
func (nopRecorder) RecordReflection()             {}

// Engine advances a population by one timestep at a time. Everything it
// touches is reachable from the engine itself; there is no package state.
type Engine struct {
	Part   *partition.Partition
	Geom   *geometry.Geometry
	Net    *reactions.Network
	RNG    rng.Stream
	Params Params
	Rec    Recorder
	Log    *slog.Logger

	stepEnd float64
	queue   []Action
	delayed []Action

	// scratch buffers reused across diffusions
	crossings []partition.Crossing
	subparts  []int
	wallSeen  []int
	mols      []Collision
	surfCols  []SurfSurfCollision
	tested    map[components.MoleculeID]struct{}
	tiles     []partition.TileRef
	snapshot  []components.MoleculeID
}

// NewEngine wires an engine. rec and log may be nil.
func NewEngine(part *partition.Partition, net *reactions.Network, r rng.Stream, params Params, rec Recorder, log *slog.Logger) *Engine {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = slog.Default()
	}
	if params.MaxWallHits <= 0 {
		params.MaxWallHits = 1000
	}
	if params.MaxEdgeCrossings <= 0 {
		params.MaxEdgeCrossings = 100
	}
	return &Engine{
		Part:   part,
		Geom:   part.Geometry(),
		Net:    net,
		RNG:    r,
		Params: params,
		Rec:    rec,
		Log:    log,
		tested: make(map[components.MoleculeID]struct{}),
	}
}

func (e *Engine) species(m *components.Molecule) *components.Species {
	return e.Net.Species(m.Species)
}

// timeStepOf returns the diffusion time step of sp, falling back to the
// global step when the species has none.
func (e *Engine) timeStepOf(sp *components.Species) float64 {
	if sp.TimeStep > 0 {
		return sp.TimeStep
	}
	return e.Params.TimeStep
}
