package partition

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/cellsim/components"
)

// TileRef addresses one grid tile.
type TileRef struct {
	Wall int
	Tile int
}

func (p *Partition) checkTile(wall, tile int) error {
	if p.geom == nil || wall < 0 || wall >= len(p.geom.Walls) {
		return fmt.Errorf("wall %d does not exist", wall)
	}
	g := p.geom.Walls[wall].Grid
	if g == nil {
		return fmt.Errorf("wall %d has no surface grid", wall)
	}
	if tile < 0 || tile >= g.NumTiles {
		return fmt.Errorf("tile %d out of range on wall %d", tile, wall)
	}
	return nil
}

// GetMoleculeOnTile returns the occupant of (wall, tile), or NoMolecule.
func (p *Partition) GetMoleculeOnTile(wall, tile int) components.MoleculeID {
	g := p.geom.Walls[wall].Grid
	if g == nil {
		return components.NoMolecule
	}
	return g.MoleculeOnTile(tile)
}

// SetMoleculeTile marks (wall, tile) as held by id.
func (p *Partition) SetMoleculeTile(wall, tile int, id components.MoleculeID) {
	p.geom.Walls[wall].Grid.SetMoleculeTile(tile, id)
}

// ResetMoleculeTile clears (wall, tile).
func (p *Partition) ResetMoleculeTile(wall, tile int) {
	p.geom.Walls[wall].Grid.ResetMoleculeTile(tile)
}

// neighborNudge moves a point that lies on a shared edge slightly into the
// neighbor wall so that tile lookup cannot land back on the edge line.
const neighborNudge = 1e-6

// FindNeighborTiles appends the tiles sharing a side with (wall, tile): first
// the neighbors on the same wall, then for each wall edge the tile touches,
// the tile across that edge on the neighbor wall when it has a grid.
func (p *Partition) FindNeighborTiles(dst []TileRef, wall, tile int) []TileRef {
	w := &p.geom.Walls[wall]
	var buf [3]int
	for _, t := range w.Grid.TileNeighborsInWall(buf[:0], tile) {
		dst = append(dst, TileRef{Wall: wall, Tile: t})
	}
	onEdge, mids := w.BorderEdges(tile)
	for k := 0; k < 3; k++ {
		if !onEdge[k] || w.Edges[k].Open() {
			continue
		}
		nw := &p.geom.Walls[w.Edges[k].Neighbor]
		if nw.Grid == nil {
			continue
		}
		q := w.Edges[k].TransformPoint(mids[k])
		q = r2.Add(q, r2.Scale(neighborNudge, r2.Sub(nw.Centroid2D(), q)))
		ref := TileRef{Wall: nw.Index, Tile: nw.UVToTile(q)}
		if !containsRef(dst, ref) {
			dst = append(dst, ref)
		}
	}
	return dst
}

func containsRef(refs []TileRef, r TileRef) bool {
	for _, x := range refs {
		if x == r {
			return true
		}
	}
	return false
}

// VacantNeighborTiles filters FindNeighborTiles down to unoccupied tiles.
func (p *Partition) VacantNeighborTiles(dst []TileRef, wall, tile int) []TileRef {
	start := len(dst)
	dst = p.FindNeighborTiles(dst, wall, tile)
	out := dst[:start]
	for _, r := range dst[start:] {
		if p.GetMoleculeOnTile(r.Wall, r.Tile) == components.NoMolecule {
			out = append(out, r)
		}
	}
	return out
}
