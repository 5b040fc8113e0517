package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Edge crossing results besides a real edge index 0..2.
const (
	EdgeNone      = -1
	EdgeAmbiguous = -2
)

// WallHit describes a segment/wall intersection.
type WallHit struct {
	T    float64
	Pos  r3.Vec
	UV   r2.Vec
	Side Side
}

// CollideWall intersects the segment start -> start+move with wall w using a
// point-normal plane test followed by an inside-triangle test in the wall's
// 2D frame. eps is the inside-test slack so that rays through shared edges
// cannot leak between neighbors.
func CollideWall(w *Wall, start, move r3.Vec, eps float64) (WallHit, bool) {
	dv := r3.Dot(w.Normal, move)
	if dv == 0 {
		return WallHit{}, false
	}
	dd := w.D - r3.Dot(w.Normal, start)
	t := dd / dv
	if t < 0 || t > 1 {
		return WallHit{}, false
	}
	hit := r3.Add(start, r3.Scale(t, move))
	uv := w.XYZToUV(hit)
	if !w.Contains2D(uv, eps) {
		return WallHit{}, false
	}
	side := SideFront
	if dv > 0 {
		side = SideBack
	}
	return WallHit{T: t, Pos: hit, UV: uv, Side: side}, true
}

// Reflect mirrors move about the plane with unit normal n.
func Reflect(move, n r3.Vec) r3.Vec {
	return r3.Sub(move, r3.Scale(2*r3.Dot(n, move), n))
}

// FindEdgePoint finds the edge through which the 2D segment pos -> pos+disp
// leaves wall w and the segment parameter t of the crossing. It returns
// EdgeNone when the segment ends inside the wall and EdgeAmbiguous when the
// crossing passes within eps of a vertex or cannot be resolved numerically.
func FindEdgePoint(w *Wall, pos, disp r2.Vec, eps float64) (edge int, t float64) {
	edge, t = EdgeNone, math.Inf(1)
	for k := 0; k < 3; k++ {
		a := w.Vertex2D(k)
		e := r2.Sub(w.Vertex2D((k+1)%3), a)
		denom := r2.Cross(disp, e)
		if denom <= 0 {
			// Parallel to the edge or moving inward across it.
			continue
		}
		ap := r2.Sub(a, pos)
		tk := r2.Cross(ap, e) / denom
		if tk > 1 {
			continue
		}
		if tk < 0 {
			tk = 0
		}
		sk := r2.Cross(ap, disp) / denom
		sEps := eps / w.Edges[k].Length
		if sk < -sEps || sk > 1+sEps {
			continue
		}
		if sk < sEps || sk > 1-sEps {
			return EdgeAmbiguous, 0
		}
		if tk < t {
			edge, t = k, tk
		}
	}
	if edge == EdgeNone {
		if !w.Contains2D(r2.Add(pos, disp), eps) {
			return EdgeAmbiguous, 0
		}
		return EdgeNone, 1
	}
	return edge, t
}

// ReflectInEdge mirrors the 2D direction d about the line of edge k.
func ReflectInEdge(w *Wall, k int, d r2.Vec) r2.Vec {
	e := r2.Unit(r2.Sub(w.Vertex2D((k+1)%3), w.Vertex2D(k)))
	return r2.Sub(r2.Scale(2*r2.Dot(d, e), e), d)
}
