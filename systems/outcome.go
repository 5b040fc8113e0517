package systems

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
)

// Outcome is the result of executing a reaction for the molecule that
// triggered it.
type Outcome uint8

const (
	// OutcomeKept means the triggering molecule survives and keeps moving.
	OutcomeKept Outcome = iota
	// OutcomeDestroyed means the triggering molecule is now defunct.
	OutcomeDestroyed
	// OutcomeBlocked means there was no room for surface products; nothing
	// was changed.
	OutcomeBlocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKept:
		return "kept"
	case OutcomeDestroyed:
		return "destroyed"
	}
	return "blocked"
}

// reactionSite describes where a reaction happens.
type reactionSite struct {
	// Pos is the collision point, used for volume products when no wall
	// is involved.
	Pos r3.Vec
	// Wall and Side locate a wall hit by a volume reactant; Wall is NoWall
	// otherwise.
	Wall int
	Side geometry.Side
	// Time is the absolute simulation time of the reaction.
	Time float64
}

// executeReaction fires pathway pw of class c. reactants are the molecules
// involved with the triggering molecule first; the surface class of a wall
// reaction is not a molecule and is omitted.
func (e *Engine) executeReaction(c *reactions.ReactionClass, pw int, reactants []*components.Molecule, site reactionSite) (Outcome, error) {
	path := &c.Pathways[pw]
	slots := e.assignSlots(c, reactants)

	// Surface context: destroyed surface reactants free their tiles for
	// recycling, every surface reactant contributes vacant neighbors.
	var recycle []partition.TileRef
	var recyclePos []components.Molecule
	var anchors []partition.TileRef
	for slot, m := range slots {
		if m == nil || !m.IsSurface() {
			continue
		}
		ref := partition.TileRef{Wall: m.Wall, Tile: m.Tile}
		anchors = append(anchors, ref)
		if path.Kept[slot] < 0 {
			recycle = append(recycle, ref)
			recyclePos = append(recyclePos, *m)
		}
	}
	hitTile := partition.TileRef{Wall: geometry.NoWall, Tile: -1}
	if site.Wall != geometry.NoWall && e.Geom.Walls[site.Wall].HasGrid() {
		w := &e.Geom.Walls[site.Wall]
		hitTile = partition.TileRef{Wall: site.Wall, Tile: w.UVToTile(w.XYZToUV(site.Pos))}
	}

	var surfProducts []int
	for pi, prod := range path.Products {
		if path.IsKept(pi) {
			continue
		}
		if e.Net.Species(prod.Species).IsSurface() {
			surfProducts = append(surfProducts, pi)
		}
	}

	placement, ok := e.placeSurfaceProducts(surfProducts, recycle, anchors, hitTile)
	if !ok {
		e.Rec.RecordBlocked()
		return OutcomeBlocked, nil
	}

	// Volume products near a wall are lifted off it along the normal.
	var surfFrame *geometry.Wall
	var surfPoint r3.Vec
	volSide := geometry.SideFront
	whereCreated := partition.TileRef{Wall: geometry.NoWall, Tile: -1}
	switch {
	case len(anchors) > 0:
		src := e.firstSurface(slots)
		surfFrame = &e.Geom.Walls[src.Wall]
		surfPoint = surfFrame.UVToXYZ(src.Pos2D)
		whereCreated = partition.TileRef{Wall: src.Wall, Tile: src.Tile}
	case site.Wall != geometry.NoWall:
		surfFrame = &e.Geom.Walls[site.Wall]
		surfPoint = site.Pos
		whereCreated = hitTile
	}
	if site.Wall != geometry.NoWall {
		volSide = site.Side
	}

	triggerSlot := -1
	if len(reactants) > 0 {
		triggerSlot = slotOf(slots, reactants[0])
	}

	for slot, m := range slots {
		if m == nil {
			continue
		}
		if path.Kept[slot] < 0 {
			e.Part.SetMoleculeAsDefunct(m)
		} else if c.IsUnimol() {
			m.Set(components.FlagScheduleUnimol)
		}
	}

	for pi, prod := range path.Products {
		if path.IsKept(pi) {
			continue
		}
		nm := components.Molecule{
			Species:       prod.Species,
			Flags:         components.FlagScheduleUnimol,
			DiffusionTime: site.Time,
			UnimolRxTime:  components.TimeForever,
		}
		var rec *components.Molecule
		var err error
		where := whereCreated
		if ref, ok := placement[pi]; ok {
			nm.Wall, nm.Tile = ref.tile.Wall, ref.tile.Tile
			if ref.recycled >= 0 {
				nm.Pos2D = recyclePos[ref.recycled].Pos2D
			} else {
				nm.Pos2D = e.Geom.Walls[nm.Wall].TileCenter(nm.Tile)
			}
			where = ref.tile
			rec, err = e.Part.AddSurfaceMolecule(nm)
		} else {
			nm.Pos = site.Pos
			if surfFrame != nil {
				sign := float64(volSide)
				if prod.Orientation != 0 {
					sign = float64(prod.Orientation)
				}
				nm.Pos = r3.Add(surfPoint, r3.Scale(sign*e.Params.ProductBump, surfFrame.Normal))
			}
			rec, err = e.Part.AddVolumeMolecule(nm)
		}
		if err != nil {
			return OutcomeDestroyed, e.fatal(FatalInvariant, reactants[0], geometry.NoWall,
				fmt.Errorf("placing product %d of %s: %w", pi, path.Name, err))
		}
		e.enqueue(Action{Type: ActionDiffuse, ID: rec.ID, Time: site.Time, WhereCreated: where})
	}

	e.Rec.RecordReaction(path.Name)
	if triggerSlot >= 0 && path.Kept[triggerSlot] < 0 {
		return OutcomeDestroyed, nil
	}
	return OutcomeKept, nil
}

// assignSlots maps reactant molecules onto class reactant slots. Molecules
// claim the first free slot of their species in the order given.
func (e *Engine) assignSlots(c *reactions.ReactionClass, reactants []*components.Molecule) []*components.Molecule {
	slots := make([]*components.Molecule, len(c.Reactants))
	for _, m := range reactants {
		for s, sp := range c.Reactants {
			if slots[s] == nil && sp == m.Species {
				slots[s] = m
				break
			}
		}
	}
	return slots
}

func slotOf(slots []*components.Molecule, m *components.Molecule) int {
	for i, x := range slots {
		if x == m {
			return i
		}
	}
	return -1
}

func (e *Engine) firstSurface(slots []*components.Molecule) *components.Molecule {
	for _, m := range slots {
		if m != nil && m.IsSurface() {
			return m
		}
	}
	return nil
}

type placedTile struct {
	tile partition.TileRef
	// recycled indexes the destroyed reactant whose tile is reused, or -1.
	recycled int
}

// placeSurfaceProducts assigns tiles to the surface products. Tiles of
// destroyed surface reactants are used first; when there are more of them
// than products each product draws one among those left. Remaining products
// draw one vacant neighbor tile each. Nothing is drawn when placement cannot
// succeed.
func (e *Engine) placeSurfaceProducts(products []int, recycle, anchors []partition.TileRef, hitTile partition.TileRef) (map[int]placedTile, bool) {
	if len(products) == 0 {
		return nil, true
	}
	out := make(map[int]placedTile, len(products))

	if len(recycle) > len(products) {
		idx := make([]int, len(recycle))
		for i := range idx {
			idx[i] = i
		}
		for _, pi := range products {
			k := int(e.RNG.Uint(uint32(len(idx))))
			out[pi] = placedTile{tile: recycle[idx[k]], recycled: idx[k]}
			idx = append(idx[:k], idx[k+1:]...)
		}
		return out, true
	}

	n := 0
	for ; n < len(recycle); n++ {
		out[products[n]] = placedTile{tile: recycle[n], recycled: n}
	}
	rest := products[n:]
	if len(rest) == 0 {
		return out, true
	}

	vacant := e.tiles[:0]
	if hitTile.Wall != geometry.NoWall && len(anchors) == 0 {
		if e.Part.GetMoleculeOnTile(hitTile.Wall, hitTile.Tile) == components.NoMolecule {
			vacant = append(vacant, hitTile)
		}
		anchors = append(anchors, hitTile)
	}
	for _, a := range anchors {
		start := len(vacant)
		vacant = e.Part.VacantNeighborTiles(vacant, a.Wall, a.Tile)
		vacant = dedupTiles(vacant, start)
	}
	e.tiles = vacant
	if len(vacant) < len(rest) {
		return nil, false
	}
	pool := append([]partition.TileRef(nil), vacant...)
	for _, pi := range rest {
		k := int(e.RNG.Uint(uint32(len(pool))))
		out[pi] = placedTile{tile: pool[k], recycled: -1}
		pool = append(pool[:k], pool[k+1:]...)
	}
	return out, true
}

// dedupTiles drops entries at or after start that already appear earlier.
func dedupTiles(tiles []partition.TileRef, start int) []partition.TileRef {
	out := tiles[:start]
	for _, t := range tiles[start:] {
		dup := false
		for _, x := range out {
			if x == t {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}
