package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
)

// axisScale turns a space step (the 3D RMS length sqrt(4 D dt)) into the
// per-axis standard deviation sqrt(2 D dt).
const axisScale = 0.70710678118654752440

// sampleVolumeDisplacement draws one 3D displacement for a partial step.
// Gaussian draws are consumed in x, y, z order.
func (e *Engine) sampleVolumeDisplacement(sp *components.Species, steps float64) r3.Vec {
	f := sp.SpaceStep * math.Sqrt(steps) * axisScale
	x := e.RNG.Gauss() * f
	y := e.RNG.Gauss() * f
	z := e.RNG.Gauss() * f
	return r3.Vec{X: x, Y: y, Z: z}
}

// diffuseVolume moves m for dt starting at absolute time t0 and resolves
// every collision along the way. It returns true when m was destroyed.
func (e *Engine) diffuseVolume(m *components.Molecule, t0, dt float64, where partition.TileRef) (bool, error) {
	sp := e.species(m)
	steps := dt / e.timeStepOf(sp)
	if steps > 1 {
		steps = 1
	}
	move := e.sampleVolumeDisplacement(sp, steps)
	scaling := 1 / math.Sqrt(steps)
	return e.moveVolume(m, move, t0, dt, scaling, where)
}

// moveVolume traces m along move, reacting and reflecting as needed. It is
// split from diffuseVolume so scenarios can supply an exact displacement.
func (e *Engine) moveVolume(m *components.Molecule, move r3.Vec, t0, dt, scaling float64, where partition.TileRef) (bool, error) {
	clear(e.tested)
	start := m.Pos
	lastWall := geometry.NoWall
	// tBase and span map a segment parameter back onto the full step.
	tBase, span := 0.0, 1.0

	for hits := 0; ; hits++ {
		if hits > e.Params.MaxWallHits {
			// Stop at the last wall contact rather than loop forever.
			return false, e.relocate(m, start)
		}
		res, err := e.trace(m, start, move, lastWall)
		if err != nil {
			return false, err
		}
		for _, c := range res.mols {
			vv := c.(VolVolCollision)
			e.tested[vv.Partner] = struct{}{}
			partner := e.Part.Get(vv.Partner)
			if partner == nil || partner.IsDefunct() {
				continue
			}
			e.Rec.RecordCollision(KindVolVol)
			pw, missed := reactions.TestBimolecular(vv.Class, scaling, e.RNG)
			if missed {
				e.Rec.RecordMissed()
			}
			if pw == reactions.NoReaction {
				continue
			}
			site := e.siteOf(vv, t0+(tBase+vv.T*span)*dt)
			out, err := e.executeReaction(vv.Class, pw, []*components.Molecule{m, partner}, site)
			if err != nil {
				return false, err
			}
			if out == OutcomeDestroyed {
				return true, nil
			}
		}

		if res.wall == nil {
			return false, e.relocate(m, r3.Add(start, move))
		}

		hit := *res.wall
		hitTime := t0 + (tBase+hit.T*span)*dt
		e.Rec.RecordCollision(KindVolWall)
		action, err := e.hitWall(m, hit, hitTime, scaling, where)
		if err != nil {
			return false, err
		}
		remaining := r3.Scale(1-hit.T, move)
		switch action {
		case wallDestroyed:
			return true, nil
		case wallPass:
			move = remaining
		default:
			e.Rec.RecordReflection()
			move = geometry.Reflect(remaining, e.Geom.Walls[hit.Wall].Normal)
		}
		start = hit.Pos
		lastWall = hit.Wall
		tBase += hit.T * span
		span *= 1 - hit.T
	}
}

func (e *Engine) relocate(m *components.Molecule, pos r3.Vec) error {
	if err := e.Part.MoveVolumeMolecule(m, pos); err != nil {
		return e.fatal(FatalOutsidePartition, m, geometry.NoWall, err)
	}
	return nil
}

type wallAction uint8

const (
	wallReflect wallAction = iota
	wallPass
	wallDestroyed
)

// hitWall resolves a wall hit: first a surface molecule on the hit tile,
// then surface-class rules of the wall's regions, then plain reflection.
func (e *Engine) hitWall(m *components.Molecule, hit VolWallCollision, t, scaling float64, where partition.TileRef) (wallAction, error) {
	w := &e.Geom.Walls[hit.Wall]

	if w.HasGrid() {
		tile := w.UVToTile(hit.UV)
		if (where != partition.TileRef{Wall: hit.Wall, Tile: tile}) {
			if act, done, err := e.hitSurfaceMolecule(m, w, tile, hit, t, scaling); done || err != nil {
				return act, err
			}
		}
	}

	var standard, transparent, reflective, absorptive *reactions.ReactionClass
	for _, ri := range w.Regions {
		sc := e.Geom.Regions[ri].SurfaceClass
		if sc < 0 {
			continue
		}
		c := e.Net.WallClass(m.Species, components.SpeciesID(sc))
		if c == nil || !sideMatches(c.Side, hit.Side) {
			continue
		}
		switch c.Type {
		case reactions.Reflective:
			reflective = firstClass(reflective, c)
		case reactions.Absorptive:
			absorptive = firstClass(absorptive, c)
		case reactions.Transparent:
			transparent = firstClass(transparent, c)
		default:
			standard = firstClass(standard, c)
		}
	}

	switch {
	case reflective != nil:
		return wallReflect, nil
	case absorptive != nil:
		e.Part.SetMoleculeAsDefunct(m)
		e.Rec.RecordAbsorbed()
		e.Rec.RecordReaction(absorptive.Pathways[0].Name)
		return wallDestroyed, nil
	}
	if standard != nil {
		pw, missed := reactions.TestBimolecular(standard, scaling, e.RNG)
		if missed {
			e.Rec.RecordMissed()
		}
		if pw != reactions.NoReaction {
			out, err := e.executeReaction(standard, pw, []*components.Molecule{m}, e.siteOf(hit, t))
			if err != nil {
				return wallReflect, err
			}
			if out == OutcomeDestroyed {
				return wallDestroyed, nil
			}
			// Kept or blocked: either way the molecule bounces.
			return wallReflect, nil
		}
	}
	if transparent != nil {
		return wallPass, nil
	}
	return wallReflect, nil
}

func firstClass(cur, c *reactions.ReactionClass) *reactions.ReactionClass {
	if cur != nil {
		return cur
	}
	return c
}

func sideMatches(classSide int8, side geometry.Side) bool {
	return classSide == reactions.SideAny || classSide == int8(side)
}

// hitSurfaceMolecule tests m against the surface molecule on tile. done is
// true when the wall hit is fully resolved by the reaction.
func (e *Engine) hitSurfaceMolecule(m *components.Molecule, w *geometry.Wall, tile int, hit VolWallCollision, t, scaling float64) (wallAction, bool, error) {
	id := e.Part.GetMoleculeOnTile(w.Index, tile)
	if id == components.NoMolecule {
		return wallReflect, false, nil
	}
	sm := e.Part.Get(id)
	if sm == nil || sm.IsDefunct() {
		return wallReflect, false, nil
	}
	c := e.Net.Bimol(m.Species, sm.Species)
	if c == nil || !c.IsReactive() || !sideMatches(c.Side, hit.Side) {
		return wallReflect, false, nil
	}
	col := VolSurfCollision{
		Diffusing: m.ID,
		Partner:   sm.ID,
		Wall:      hit.Wall,
		T:         hit.T,
		Pos:       hit.Pos,
		Side:      hit.Side,
		Class:     c,
	}
	e.Rec.RecordCollision(col.Kind())
	if e.Params.RefBindingFactor > 0 {
		scaling *= e.Params.RefBindingFactor / w.Grid.BindingFactor
	}
	pw, missed := reactions.TestBimolecular(col.Class, scaling, e.RNG)
	if missed {
		e.Rec.RecordMissed()
	}
	if pw == reactions.NoReaction {
		return wallReflect, false, nil
	}
	out, err := e.executeReaction(col.Class, pw, []*components.Molecule{m, sm}, e.siteOf(col, t))
	if err != nil {
		return wallReflect, true, err
	}
	if out == OutcomeDestroyed {
		return wallDestroyed, true, nil
	}
	// A blocked reaction degrades to a plain reflection; the wall's own
	// rules are not consulted.
	return wallReflect, true, nil
}
