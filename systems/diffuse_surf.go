package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/reactions"
)

// surfaceWalk is the result of carrying one 2D displacement across walls.
type surfaceWalk uint8

const (
	walkLanded surfaceWalk = iota
	walkAmbiguous
	walkAbsorbed
)

// sampleSurfaceDisplacement draws one 2D displacement in the wall frame.
func (e *Engine) sampleSurfaceDisplacement(sp *components.Species, steps float64) r2.Vec {
	f := sp.SpaceStep * math.Sqrt(steps) * axisScale
	u := e.RNG.Gauss() * f
	v := e.RNG.Gauss() * f
	return r2.Vec{X: u, Y: v}
}

// diffuseSurface moves surface molecule m for dt and then tests it against
// its neighbors. It returns true when m was destroyed.
func (e *Engine) diffuseSurface(m *components.Molecule, t0, dt float64) (bool, error) {
	sp := e.species(m)
	steps := dt / e.timeStepOf(sp)
	if steps > 1 {
		steps = 1
	}

	landed := false
	for attempt := 0; attempt <= e.Params.MaxSurfaceRetries; attempt++ {
		disp := e.sampleSurfaceDisplacement(sp, steps)
		wall, uv, res := e.walkSurface(m, disp)
		switch res {
		case walkAmbiguous:
			continue
		case walkAbsorbed:
			e.Part.SetMoleculeAsDefunct(m)
			e.Rec.RecordAbsorbed()
			return true, nil
		}
		if err := e.landSurface(m, wall, uv); err != nil {
			return false, err
		}
		landed = true
		break
	}
	if !landed {
		e.Rec.RecordRetriesExhausted()
		e.Log.Debug("surface diffusion retries exhausted", "molecule", m.ID, "wall", m.Wall)
	}
	return e.reactSurface(m, t0+dt, 1/steps)
}

// walkSurface follows disp from m's position, reflecting off open and
// reflective edges and crossing into neighbor walls otherwise.
func (e *Engine) walkSurface(m *components.Molecule, disp r2.Vec) (int, r2.Vec, surfaceWalk) {
	w := &e.Geom.Walls[m.Wall]
	pos := m.Pos2D
	for crossings := 0; crossings <= e.Params.MaxEdgeCrossings; crossings++ {
		k, t := geometry.FindEdgePoint(w, pos, disp, e.Params.Epsilon)
		switch k {
		case geometry.EdgeAmbiguous:
			return 0, r2.Vec{}, walkAmbiguous
		case geometry.EdgeNone:
			return w.Index, r2.Add(pos, disp), walkLanded
		}
		hit := r2.Add(pos, r2.Scale(t, disp))
		rest := r2.Scale(1-t, disp)
		edge := &w.Edges[k]

		if edge.Open() || !e.Geom.Walls[edge.Neighbor].HasGrid() {
			pos, disp = hit, geometry.ReflectInEdge(w, k, rest)
			continue
		}
		nw := &e.Geom.Walls[edge.Neighbor]
		switch e.borderRule(m.Species, w, nw) {
		case reactions.Reflective:
			pos, disp = hit, geometry.ReflectInEdge(w, k, rest)
			continue
		case reactions.Absorptive:
			return 0, r2.Vec{}, walkAbsorbed
		}
		pos = edge.TransformPoint(hit)
		disp = edge.TransformDir(rest)
		w = nw
	}
	return 0, r2.Vec{}, walkAmbiguous
}

// borderRule returns the strongest surface-class rule for crossing from w
// into nw. Regions that contain only one of the two walls form the border.
// Reflective beats absorptive beats transparent; Standard means no rule.
func (e *Engine) borderRule(s components.SpeciesID, w, nw *geometry.Wall) reactions.ClassType {
	rule := reactions.Standard
	consider := func(ri int) {
		sc := e.Geom.Regions[ri].SurfaceClass
		if sc < 0 {
			return
		}
		c := e.Net.WallClass(s, components.SpeciesID(sc))
		if c == nil {
			return
		}
		if rank(c.Type) > rank(rule) {
			rule = c.Type
		}
	}
	for _, ri := range w.Regions {
		if !nw.HasRegion(ri) {
			consider(ri)
		}
	}
	for _, ri := range nw.Regions {
		if !w.HasRegion(ri) {
			consider(ri)
		}
	}
	return rule
}

func rank(t reactions.ClassType) int {
	switch t {
	case reactions.Reflective:
		return 3
	case reactions.Absorptive:
		return 2
	case reactions.Transparent:
		return 1
	}
	return 0
}

// landSurface places m at uv on wall. An occupied destination leaves m
// where it was.
func (e *Engine) landSurface(m *components.Molecule, wall int, uv r2.Vec) error {
	w := &e.Geom.Walls[wall]
	tile := w.UVToTile(uv)
	if wall == m.Wall && tile == m.Tile {
		m.Pos2D = uv
		return nil
	}
	if e.Part.GetMoleculeOnTile(wall, tile) != components.NoMolecule {
		return nil
	}
	if err := e.Part.MoveSurfaceMolecule(m, wall, tile, uv); err != nil {
		return e.fatal(FatalInvariant, m, wall, err)
	}
	return nil
}

// reactSurface tests m against the molecules on its neighboring tiles with
// a single draw.
func (e *Engine) reactSurface(m *components.Molecule, t, scaling float64) (bool, error) {
	e.tiles = e.Part.FindNeighborTiles(e.tiles[:0], m.Wall, m.Tile)
	e.surfCols = e.surfCols[:0]
	for _, ref := range e.tiles {
		id := e.Part.GetMoleculeOnTile(ref.Wall, ref.Tile)
		if id == components.NoMolecule {
			continue
		}
		other := e.Part.Get(id)
		if other == nil || other.IsDefunct() {
			continue
		}
		c := e.Net.Bimol(m.Species, other.Species)
		if c == nil || !c.IsReactive() {
			continue
		}
		e.surfCols = append(e.surfCols, SurfSurfCollision{Diffusing: m.ID, Partner: id, Class: c})
	}
	if len(e.surfCols) == 0 {
		return false, nil
	}
	classes := make([]*reactions.ReactionClass, len(e.surfCols))
	scalings := make([]float64, len(e.surfCols))
	for i, col := range e.surfCols {
		e.Rec.RecordCollision(col.Kind())
		classes[i] = col.Class
		scalings[i] = scaling
	}
	which, pw, missed := reactions.TestManyBimolecular(classes, scalings, e.RNG)
	if missed {
		e.Rec.RecordMissed()
	}
	if which == reactions.NoReaction {
		return false, nil
	}
	col := e.surfCols[which]
	partner := e.Part.Get(col.Partner)
	out, err := e.executeReaction(col.Class, pw, []*components.Molecule{m, partner}, e.siteOf(col, t))
	if err != nil {
		return false, err
	}
	return out == OutcomeDestroyed, nil
}
