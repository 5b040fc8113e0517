// Package geometry holds the static triangle mesh the engine collides with:
// walls, their shared edges, per-wall tile grids and named regions.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// NoWall marks an absent wall reference (open edge, no last-hit wall).
const NoWall = -1

// Side identifies which face of a wall a volume molecule approached from.
type Side int8

const (
	SideFront Side = 1
	SideBack  Side = -1
)

func (s Side) String() string {
	if s == SideBack {
		return "back"
	}
	return "front"
}

// Edge describes how to carry 2D coordinates from the owning wall's frame
// across edge k (vertex k to vertex k+1) into the neighbor wall's frame.
type Edge struct {
	Neighbor     int
	NeighborEdge int
	Cos, Sin     float64
	Translate    r2.Vec
	Length       float64
}

// Open reports whether no wall shares this edge.
func (e *Edge) Open() bool { return e.Neighbor == NoWall }

// TransformPoint maps a point from the owning wall's frame to the neighbor's.
func (e *Edge) TransformPoint(p r2.Vec) r2.Vec {
	return r2.Add(e.TransformDir(p), e.Translate)
}

// TransformDir rotates a direction from the owning wall's frame to the
// neighbor's.
func (e *Edge) TransformDir(d r2.Vec) r2.Vec {
	return r2.Vec{X: e.Cos*d.X - e.Sin*d.Y, Y: e.Sin*d.X + e.Cos*d.Y}
}

// Wall is one triangle of the boundary mesh with a precomputed local frame.
// Vertex 0 is the 2D origin, vertex 1 lies on the +u axis and vertex 2 has
// positive v.
type Wall struct {
	Index    int
	Object   int
	Vertices [3]int

	Origin r3.Vec
	Normal r3.Vec
	UnitU  r3.Vec
	UnitV  r3.Vec
	// D is the plane offset: dot(Normal, x) == D for points on the wall.
	D float64

	UV1U float64
	UV2  r2.Vec
	Area float64

	Edges   [3]Edge
	Regions []int
	Grid    *Grid
}

// Vertex2D returns vertex i in the wall's 2D frame.
func (w *Wall) Vertex2D(i int) r2.Vec {
	switch i {
	case 1:
		return r2.Vec{X: w.UV1U}
	case 2:
		return w.UV2
	}
	return r2.Vec{}
}

// UVToXYZ converts a 2D wall coordinate into world space.
func (w *Wall) UVToXYZ(uv r2.Vec) r3.Vec {
	return r3.Add(w.Origin, r3.Add(r3.Scale(uv.X, w.UnitU), r3.Scale(uv.Y, w.UnitV)))
}

// XYZToUV projects a world-space point into the wall's 2D frame.
func (w *Wall) XYZToUV(p r3.Vec) r2.Vec {
	d := r3.Sub(p, w.Origin)
	return r2.Vec{X: r3.Dot(d, w.UnitU), Y: r3.Dot(d, w.UnitV)}
}

// Centroid2D returns the triangle centroid in the wall frame.
func (w *Wall) Centroid2D() r2.Vec {
	return r2.Scale(1.0/3.0, r2.Add(w.Vertex2D(1), w.Vertex2D(2)))
}

// Contains2D reports whether uv lies inside the triangle, allowing eps of
// slack measured as signed distance from each edge.
func (w *Wall) Contains2D(uv r2.Vec, eps float64) bool {
	for k := 0; k < 3; k++ {
		if w.edgeDistance(k, uv) < -eps {
			return false
		}
	}
	return true
}

// edgeDistance returns the signed distance of uv from edge k, positive on the
// inner side.
func (w *Wall) edgeDistance(k int, uv r2.Vec) float64 {
	a := w.Vertex2D(k)
	b := w.Vertex2D((k + 1) % 3)
	e := r2.Sub(b, a)
	l := r2.Norm(e)
	if l == 0 {
		return math.Inf(-1)
	}
	return r2.Cross(e, r2.Sub(uv, a)) / l
}

// EdgeDistance returns the distance of uv from edge k measured inside the
// wall frame (positive inside the triangle).
func (w *Wall) EdgeDistance(k int, uv r2.Vec) float64 { return w.edgeDistance(k, uv) }

// HasRegion reports whether the wall belongs to region r.
func (w *Wall) HasRegion(r int) bool {
	for _, x := range w.Regions {
		if x == r {
			return true
		}
	}
	return false
}

// HasGrid reports whether surface molecules can live on the wall.
func (w *Wall) HasGrid() bool { return w.Grid != nil }

// Bounds returns the axis-aligned bounding box of the triangle.
func (w *Wall) Bounds(verts []r3.Vec) (lo, hi r3.Vec) {
	lo = verts[w.Vertices[0]]
	hi = lo
	for _, vi := range w.Vertices[1:] {
		v := verts[vi]
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}
