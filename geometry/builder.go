package geometry

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateWall is wrapped by errors describing walls whose edges or area
// fall below the configured epsilon.
var ErrDegenerateWall = errors.New("degenerate wall")

// ErrBadMesh is wrapped by topology errors (non-manifold or inconsistently
// oriented edges).
var ErrBadMesh = errors.New("invalid mesh")

// WallError locates a build failure on one wall.
type WallError struct {
	Object int
	Wall   int
	Err    error
}

func (e *WallError) Error() string { return e.Err.Error() }

func (e *WallError) Unwrap() error { return e.Err }

// ObjectSpec describes one triangle mesh as supplied by model loading.
type ObjectSpec struct {
	Name      string
	Vertices  []r3.Vec
	Triangles [][3]int
	Regions   []RegionSpec
}

// RegionSpec names a subset of an object's triangles.
type RegionSpec struct {
	Name      string
	Triangles []int
	// SurfaceClass is a species id, or -1 when the region has none.
	SurfaceClass int
}

// Object records the wall range owned by one mesh.
type Object struct {
	Name      string
	FirstWall int
	NumWalls  int
	Regions   []int
}

// Region is a named wall set.
type Region struct {
	Index        int
	Name         string
	Object       int
	Walls        []int
	SurfaceClass int
}

// Geometry is the immutable mesh data handed to the engine.
type Geometry struct {
	Vertices []r3.Vec
	Walls    []Wall
	Objects  []Object
	Regions  []Region
}

// Build validates and indexes the supplied triangle soup, computes wall
// frames and resolves edge neighbors within each object.
func Build(objects []ObjectSpec, eps float64) (*Geometry, error) {
	g := &Geometry{}
	for oi, spec := range objects {
		vbase := len(g.Vertices)
		g.Vertices = append(g.Vertices, spec.Vertices...)
		obj := Object{Name: spec.Name, FirstWall: len(g.Walls), NumWalls: len(spec.Triangles)}

		for ti, tri := range spec.Triangles {
			for _, vi := range tri {
				if vi < 0 || vi >= len(spec.Vertices) {
					return nil, fmt.Errorf("object %q triangle %d: vertex index %d out of range: %w",
						spec.Name, ti, vi, ErrBadMesh)
				}
			}
			w, err := newWall(len(g.Walls), oi, [3]int{tri[0] + vbase, tri[1] + vbase, tri[2] + vbase}, g.Vertices, eps)
			if err != nil {
				return nil, &WallError{Object: oi, Wall: len(g.Walls),
					Err: fmt.Errorf("object %q triangle %d (wall %d): %w", spec.Name, ti, len(g.Walls), err)}
			}
			g.Walls = append(g.Walls, w)
		}

		all := Region{
			Index:        len(g.Regions),
			Name:         spec.Name + ",ALL",
			Object:       oi,
			SurfaceClass: -1,
		}
		for k := 0; k < obj.NumWalls; k++ {
			all.Walls = append(all.Walls, obj.FirstWall+k)
		}
		g.Regions = append(g.Regions, all)
		obj.Regions = append(obj.Regions, all.Index)

		for _, rs := range spec.Regions {
			reg := Region{
				Index:        len(g.Regions),
				Name:         spec.Name + "," + rs.Name,
				Object:       oi,
				SurfaceClass: rs.SurfaceClass,
			}
			for _, ti := range rs.Triangles {
				if ti < 0 || ti >= obj.NumWalls {
					return nil, fmt.Errorf("object %q region %q: triangle %d out of range: %w",
						spec.Name, rs.Name, ti, ErrBadMesh)
				}
				reg.Walls = append(reg.Walls, obj.FirstWall+ti)
			}
			sort.Ints(reg.Walls)
			g.Regions = append(g.Regions, reg)
			obj.Regions = append(obj.Regions, reg.Index)
		}
		g.Objects = append(g.Objects, obj)

		if err := g.linkEdges(obj, eps); err != nil {
			return nil, fmt.Errorf("object %q: %w", spec.Name, err)
		}
	}

	for ri := range g.Regions {
		for _, wi := range g.Regions[ri].Walls {
			g.Walls[wi].Regions = append(g.Walls[wi].Regions, ri)
		}
	}
	return g, nil
}

func newWall(index, object int, vi [3]int, verts []r3.Vec, eps float64) (Wall, error) {
	v0, v1, v2 := verts[vi[0]], verts[vi[1]], verts[vi[2]]
	w := Wall{Index: index, Object: object, Vertices: vi, Origin: v0}

	for k := 0; k < 3; k++ {
		a, b := verts[vi[k]], verts[vi[(k+1)%3]]
		if l := r3.Norm(r3.Sub(b, a)); l < eps {
			return w, fmt.Errorf("edge %d length %g below epsilon %g: %w", k, l, eps, ErrDegenerateWall)
		}
	}

	e1 := r3.Sub(v1, v0)
	e2 := r3.Sub(v2, v0)
	n := r3.Cross(e1, e2)
	twiceArea := r3.Norm(n)
	if twiceArea/2 < eps*eps {
		return w, fmt.Errorf("area %g below epsilon: %w", twiceArea/2, ErrDegenerateWall)
	}
	w.Area = twiceArea / 2
	w.Normal = r3.Scale(1/twiceArea, n)
	w.UnitU = r3.Unit(e1)
	w.UnitV = r3.Cross(w.Normal, w.UnitU)
	w.D = r3.Dot(w.Normal, v0)
	w.UV1U = r3.Norm(e1)
	w.UV2 = r2.Vec{X: r3.Dot(e2, w.UnitU), Y: r3.Dot(e2, w.UnitV)}
	for k := range w.Edges {
		w.Edges[k] = Edge{Neighbor: NoWall, NeighborEdge: -1, Cos: 1}
	}
	return w, nil
}

type vertexPair struct{ a, b int }

func sortedPair(a, b int) vertexPair {
	if a > b {
		a, b = b, a
	}
	return vertexPair{a, b}
}

type edgeRef struct{ wall, edge int }

// linkEdges pairs up walls of one object that share a vertex pair and
// precomputes the frame transform across each shared edge.
func (g *Geometry) linkEdges(obj Object, eps float64) error {
	shared := make(map[vertexPair][]edgeRef)
	var order []vertexPair
	for wi := obj.FirstWall; wi < obj.FirstWall+obj.NumWalls; wi++ {
		w := &g.Walls[wi]
		for k := 0; k < 3; k++ {
			key := sortedPair(w.Vertices[k], w.Vertices[(k+1)%3])
			if _, ok := shared[key]; !ok {
				order = append(order, key)
			}
			shared[key] = append(shared[key], edgeRef{wi, k})
			w.Edges[k].Length = r3.Norm(r3.Sub(g.Vertices[key.b], g.Vertices[key.a]))
		}
	}
	for _, key := range order {
		refs := shared[key]
		switch len(refs) {
		case 1:
			continue
		case 2:
		default:
			return fmt.Errorf("edge between vertices %d and %d shared by %d walls: %w",
				key.a, key.b, len(refs), ErrBadMesh)
		}
		a, b := refs[0], refs[1]
		if err := g.linkPair(a, b, eps); err != nil {
			return err
		}
		if err := g.linkPair(b, a, eps); err != nil {
			return err
		}
	}
	return nil
}

// linkPair fills the edge transform carrying wall from.wall's frame into
// to.wall's frame.
func (g *Geometry) linkPair(from, to edgeRef, eps float64) error {
	wf := &g.Walls[from.wall]
	wt := &g.Walls[to.wall]
	p3 := g.Vertices[wf.Vertices[from.edge]]
	q3 := g.Vertices[wf.Vertices[(from.edge+1)%3]]

	pf, qf := wf.XYZToUV(p3), wf.XYZToUV(q3)
	pt, qt := wt.XYZToUV(p3), wt.XYZToUV(q3)
	df, dt := r2.Sub(qf, pf), r2.Sub(qt, pt)

	theta := math.Atan2(dt.Y, dt.X) - math.Atan2(df.Y, df.X)
	e := &wf.Edges[from.edge]
	e.Neighbor = to.wall
	e.NeighborEdge = to.edge
	e.Cos, e.Sin = math.Cos(theta), math.Sin(theta)
	e.Translate = r2.Sub(pt, e.TransformDir(pf))

	// The unfolded third vertex of the source wall must land on the far
	// side of the shared edge from the target wall's third vertex.
	third := wf.Vertex2D((from.edge + 2) % 3)
	unfolded := e.TransformPoint(third)
	other := wt.Vertex2D((to.edge + 2) % 3)
	s1 := r2.Cross(dt, r2.Sub(unfolded, pt))
	s2 := r2.Cross(dt, r2.Sub(other, pt))
	if s1*s2 > 0 && math.Abs(s1) > eps*eps && math.Abs(s2) > eps*eps {
		return &WallError{Object: wt.Object, Wall: to.wall,
			Err: fmt.Errorf("walls %d and %d are inconsistently oriented: %w", from.wall, to.wall, ErrBadMesh)}
	}
	return nil
}

// InitGrids attaches a surface grid to every wall.
func (g *Geometry) InitGrids(density float64) {
	for i := range g.Walls {
		g.Walls[i].Grid = NewGrid(g.Walls[i].Area, density)
	}
}

// RegionByName looks up a region by its "object,region" name.
func (g *Geometry) RegionByName(name string) (int, bool) {
	for i := range g.Regions {
		if g.Regions[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// ObjectByName looks up an object index.
func (g *Geometry) ObjectByName(name string) (int, bool) {
	for i := range g.Objects {
		if g.Objects[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// WallVertices returns the three world-space vertices of wall wi.
func (g *Geometry) WallVertices(wi int) (a, b, c r3.Vec) {
	w := &g.Walls[wi]
	return g.Vertices[w.Vertices[0]], g.Vertices[w.Vertices[1]], g.Vertices[w.Vertices[2]]
}
