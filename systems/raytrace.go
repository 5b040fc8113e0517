package systems

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
)

// traceResult is the outcome of tracing one displacement segment.
type traceResult struct {
	// mols holds VolVolCollision values sorted by SortCollisions.
	mols []Collision
	wall *VolWallCollision
}

// RayTrace enumerates the collisions of volume molecule m moving from start
// by move. lastWall is skipped. Only the first wall hit is reported and
// molecule collisions beyond it are dropped. The returned slice is reused by
// the next call.
func (e *Engine) RayTrace(m *components.Molecule, start, move r3.Vec, lastWall int) ([]Collision, *VolWallCollision, error) {
	res, err := e.trace(m, start, move, lastWall)
	return res.mols, res.wall, err
}

func (e *Engine) trace(m *components.Molecule, start, move r3.Vec, lastWall int) (traceResult, error) {
	var res traceResult

	wall, clipped := e.traceWalls(start, move, lastWall)
	if wall == nil && clipped {
		end := r3.Add(start, move)
		return res, e.fatal(FatalOutsidePartition, m, geometry.NoWall,
			fmt.Errorf("displacement to (%g, %g, %g): %w", end.X, end.Y, end.Z, partition.ErrOutsidePartition))
	}
	res.wall = wall

	tMax := 1.0
	if wall != nil {
		tMax = wall.T
	}
	res.mols = e.traceMolecules(m, start, move, tMax)
	return res, nil
}

// traceWalls visits subpartitions in displacement order. Once a hit is
// known, later subpartitions are visited only while they are entered before
// the hit.
func (e *Engine) traceWalls(start, move r3.Vec, lastWall int) (best *VolWallCollision, clipped bool) {
	e.crossings, clipped = e.Part.CrossedSubparts(e.crossings[:0], start, move)
	e.wallSeen = e.wallSeen[:0]
	var hit geometry.WallHit
	bestWall := geometry.NoWall

	for _, c := range e.crossings {
		if bestWall != geometry.NoWall && c.TEnter >= hit.T {
			break
		}
		for _, wi := range e.Part.WallsInSubpart(c.Subpart) {
			if wi == lastWall || seen(e.wallSeen, wi) {
				continue
			}
			e.wallSeen = append(e.wallSeen, wi)
			h, ok := geometry.CollideWall(&e.Geom.Walls[wi], start, move, e.Params.Epsilon)
			if !ok {
				continue
			}
			if bestWall == geometry.NoWall || h.T < hit.T || (h.T == hit.T && wi < bestWall) {
				hit, bestWall = h, wi
			}
		}
	}
	if bestWall == geometry.NoWall {
		return nil, clipped
	}
	return &VolWallCollision{Wall: bestWall, T: hit.T, Pos: hit.Pos, UV: hit.UV, Side: hit.Side}, false
}

func seen(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// traceMolecules collects reactive volume partners within interaction
// distance of the segment start -> start+move*tMax. Partners already tested
// during the current diffusion are skipped.
func (e *Engine) traceMolecules(m *components.Molecule, start, move r3.Vec, tMax float64) []Collision {
	e.mols = e.mols[:0]
	partners := e.Net.Partners(m.Species)
	if len(partners) == 0 {
		return e.mols
	}
	short := r3.Scale(tMax, move)
	sigma := e.Params.RxRadius3D
	e.subparts = e.Part.SegmentSubparts(e.subparts[:0], start, short, sigma)

	for _, ps := range partners {
		class := e.Net.Bimol(m.Species, ps)
		if class == nil || !class.IsReactive() {
			continue
		}
		for _, si := range e.subparts {
			for _, id := range e.Part.VolumeInSubpart(si, ps) {
				if id == m.ID {
					continue
				}
				if _, done := e.tested[id]; done {
					continue
				}
				other := e.Part.Get(id)
				t, pos, ok := collideMol(start, short, other.Pos, sigma)
				if !ok {
					continue
				}
				e.mols = append(e.mols, VolVolCollision{
					Diffusing: m.ID,
					Partner:   id,
					T:         t * tMax,
					Pos:       pos,
					Class:     class,
				})
			}
		}
	}
	SortCollisions(e.mols)
	return e.mols
}
