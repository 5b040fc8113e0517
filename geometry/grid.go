package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/cellsim/components"
)

// Grid tiles a wall into N*N congruent triangles. With affine coordinates
// (A, B) = N*(a, b) where uv = a*v1 + b*v2, strip r holds N-r upright tiles
// (i, r) and N-r-1 inverted tiles. Strip r starts at index r*(2N-r) and tiles
// alternate upright, inverted along the strip.
type Grid struct {
	N             int
	NumTiles      int
	BindingFactor float64
	TileArea      float64

	molecules []components.MoleculeID
	occupied  int
}

// NewGrid sizes a grid for a wall of the given area so that the tile density
// is at least density tiles per unit area.
func NewGrid(area, density float64) *Grid {
	n := int(math.Ceil(math.Sqrt(area * density)))
	if n < 1 {
		n = 1
	}
	g := &Grid{
		N:             n,
		NumTiles:      n * n,
		BindingFactor: float64(n*n) / area,
		TileArea:      area / float64(n*n),
		molecules:     make([]components.MoleculeID, n*n),
	}
	for i := range g.molecules {
		g.molecules[i] = components.NoMolecule
	}
	return g
}

// MoleculeOnTile returns the occupant of tile, or NoMolecule.
func (g *Grid) MoleculeOnTile(tile int) components.MoleculeID { return g.molecules[tile] }

// SetMoleculeTile records id as the occupant of tile.
func (g *Grid) SetMoleculeTile(tile int, id components.MoleculeID) {
	if g.molecules[tile] == components.NoMolecule {
		g.occupied++
	}
	g.molecules[tile] = id
}

// ResetMoleculeTile clears tile.
func (g *Grid) ResetMoleculeTile(tile int) {
	if g.molecules[tile] != components.NoMolecule {
		g.occupied--
	}
	g.molecules[tile] = components.NoMolecule
}

// Occupied returns the number of occupied tiles.
func (g *Grid) Occupied() int { return g.occupied }

// TileCoords decodes a tile index into strip position.
func (g *Grid) TileCoords(tile int) (i, r int, inverted bool) {
	n := g.N
	r = int(float64(n) - math.Sqrt(float64(n*n-tile)))
	for r > 0 && r*(2*n-r) > tile {
		r--
	}
	for r+1 < n && (r+1)*(2*n-r-1) <= tile {
		r++
	}
	k := tile - r*(2*n-r)
	return k / 2, r, k%2 == 1
}

// TileIndex encodes strip coordinates into a tile index.
func (g *Grid) TileIndex(i, r int, inverted bool) int {
	idx := r*(2*g.N-r) + 2*i
	if inverted {
		idx++
	}
	return idx
}

// validTile reports whether (i, r, inverted) lies within the triangle.
func (g *Grid) validTile(i, r int, inverted bool) bool {
	if i < 0 || r < 0 {
		return false
	}
	if inverted {
		return i+r <= g.N-2
	}
	return i+r <= g.N-1
}

func (w *Wall) affine(uv r2.Vec) (a, b float64) {
	b = uv.Y / w.UV2.Y
	a = (uv.X - b*w.UV2.X) / w.UV1U
	return a, b
}

func (w *Wall) fromAffine(a, b float64) r2.Vec {
	return r2.Vec{X: a*w.UV1U + b*w.UV2.X, Y: b * w.UV2.Y}
}

// UVToTile returns the tile containing uv. Points marginally outside the
// triangle are clamped to the nearest border tile.
func (w *Wall) UVToTile(uv r2.Vec) int {
	g := w.Grid
	n := g.N
	a, b := w.affine(uv)
	A := a * float64(n)
	B := b * float64(n)

	r := int(math.Floor(B))
	if r < 0 {
		r = 0
	} else if r > n-1 {
		r = n - 1
	}
	i := int(math.Floor(A))
	if i < 0 {
		i = 0
	} else if i > n-1-r {
		i = n - 1 - r
	}
	fa := A - float64(i)
	fb := B - float64(r)
	inverted := fa+fb > 1 && i+r <= n-2
	return g.TileIndex(i, r, inverted)
}

// TileCenter returns the centroid of tile in the wall frame.
func (w *Wall) TileCenter(tile int) r2.Vec {
	g := w.Grid
	i, r, inv := g.TileCoords(tile)
	n := float64(g.N)
	A, B := float64(i)+1.0/3.0, float64(r)+1.0/3.0
	if inv {
		A, B = float64(i)+2.0/3.0, float64(r)+2.0/3.0
	}
	return w.fromAffine(A/n, B/n)
}

// TileRandomPoint returns a uniformly distributed point inside tile using two
// uniform draws s and t.
func (w *Wall) TileRandomPoint(tile int, s, t float64) r2.Vec {
	g := w.Grid
	i, r, inv := g.TileCoords(tile)
	if s+t > 1 {
		s, t = 1-s, 1-t
	}
	A, B := float64(i)+s, float64(r)+t
	if inv {
		A, B = float64(i+1)-s, float64(r+1)-t
	}
	n := float64(g.N)
	return w.fromAffine(A/n, B/n)
}

// TileNeighborsInWall appends tiles sharing an edge with tile on the same
// wall, in a fixed order.
func (g *Grid) TileNeighborsInWall(dst []int, tile int) []int {
	i, r, inv := g.TileCoords(tile)
	if inv {
		dst = append(dst, g.TileIndex(i, r, false))
		dst = append(dst, g.TileIndex(i+1, r, false))
		dst = append(dst, g.TileIndex(i, r+1, false))
		return dst
	}
	if g.validTile(i-1, r, true) {
		dst = append(dst, g.TileIndex(i-1, r, true))
	}
	if g.validTile(i, r, true) {
		dst = append(dst, g.TileIndex(i, r, true))
	}
	if g.validTile(i, r-1, true) {
		dst = append(dst, g.TileIndex(i, r-1, true))
	}
	return dst
}

// BorderEdges reports which wall edges the tile lies on, as the midpoint of
// the tile side touching that edge. Only upright tiles touch wall edges.
func (w *Wall) BorderEdges(tile int) (edges [3]bool, mids [3]r2.Vec) {
	g := w.Grid
	i, r, inv := g.TileCoords(tile)
	if inv {
		return edges, mids
	}
	n := float64(g.N)
	fi, fr := float64(i), float64(r)
	if r == 0 {
		edges[0] = true
		mids[0] = w.fromAffine((fi+0.5)/n, 0)
	}
	if i+r == g.N-1 {
		edges[1] = true
		mids[1] = w.fromAffine((fi+0.5)/n, (fr+0.5)/n)
	}
	if i == 0 {
		edges[2] = true
		mids[2] = w.fromAffine(0, (fr+0.5)/n)
	}
	return edges, mids
}
