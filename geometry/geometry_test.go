package geometry

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

const testEps = 1e-9

// foldedPair returns two triangles sharing the edge (0,0,0)-(1,0,0). The
// second is rotated about the x axis by angle radians out of the z=0 plane.
func foldedPair(angle float64) ObjectSpec {
	return ObjectSpec{
		Name: "fold",
		Vertices: []r3.Vec{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0.5, Y: 1, Z: 0},
			{X: 0.5, Y: -math.Cos(angle), Z: math.Sin(angle)},
		},
		Triangles: [][3]int{{0, 1, 2}, {1, 0, 3}},
		Regions:   []RegionSpec{{Name: "top", Triangles: []int{0}, SurfaceClass: -1}},
	}
}

func TestBuildLinksSharedEdge(t *testing.T) {
	g, err := Build([]ObjectSpec{foldedPair(0.3)}, testEps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.Walls) != 2 {
		t.Fatalf("walls = %d, want 2", len(g.Walls))
	}
	if g.Walls[0].Edges[0].Neighbor != 1 || g.Walls[1].Edges[0].Neighbor != 0 {
		t.Errorf("edge 0 neighbors = %d, %d", g.Walls[0].Edges[0].Neighbor, g.Walls[1].Edges[0].Neighbor)
	}
	if !g.Walls[0].Edges[1].Open() {
		t.Error("edge 1 of wall 0 should be open")
	}
	if math.Abs(r3.Norm(g.Walls[0].Normal)-1) > 1e-12 {
		t.Error("normal not unit length")
	}
	if math.Abs(g.Walls[0].Area-0.5) > 1e-12 {
		t.Errorf("area = %v, want 0.5", g.Walls[0].Area)
	}
	if _, ok := g.RegionByName("fold,top"); !ok {
		t.Error("named region missing")
	}
	if !g.Walls[0].HasRegion(0) || !g.Walls[1].HasRegion(0) {
		t.Error("ALL region should contain both walls")
	}
}

// Distances from the shared edge must be preserved by the frame transform.
func TestEdgeTransformPreservesEdgeDistance(t *testing.T) {
	for _, angle := range []float64{0, 0.4, math.Pi / 2, 2.5} {
		g, err := Build([]ObjectSpec{foldedPair(angle)}, testEps)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		w0, w1 := &g.Walls[0], &g.Walls[1]
		e := &w0.Edges[0]
		for _, p := range []r2.Vec{{X: 0.5, Y: 0.2}, {X: 0.3, Y: 0.05}, {X: 0.6, Y: -0.1}} {
			before := w0.EdgeDistance(0, p)
			q := e.TransformPoint(p)
			after := -w1.EdgeDistance(e.NeighborEdge, q)
			if math.Abs(before-after) > 1e-9 {
				t.Errorf("angle %v point %v: distance %v became %v", angle, p, before, after)
			}
		}
		// Points on the shared edge map to the same 3D location.
		onEdge := r2.Vec{X: 0.25, Y: 0}
		p3 := w0.UVToXYZ(onEdge)
		q3 := w1.UVToXYZ(e.TransformPoint(onEdge))
		if r3.Norm(r3.Sub(p3, q3)) > 1e-9 {
			t.Errorf("angle %v: shared edge point maps to %v, want %v", angle, q3, p3)
		}
	}
}

func TestBuildRejectsDegenerateWall(t *testing.T) {
	spec := ObjectSpec{
		Name:      "thin",
		Vertices:  []r3.Vec{{}, {X: 1}, {X: 1 + 1e-12}},
		Triangles: [][3]int{{0, 1, 2}},
	}
	_, err := Build([]ObjectSpec{foldedPair(0), spec}, 1e-6)
	if !errors.Is(err, ErrDegenerateWall) {
		t.Fatalf("err = %v, want ErrDegenerateWall", err)
	}
	var we *WallError
	if !errors.As(err, &we) || we.Object != 1 || we.Wall != 2 {
		t.Errorf("err = %#v, want wall 2 of object 1", err)
	}
}

func TestBuildRejectsInconsistentOrientation(t *testing.T) {
	spec := foldedPair(0.5)
	spec.Triangles[1] = [3]int{0, 1, 3}
	_, err := Build([]ObjectSpec{spec}, testEps)
	if !errors.Is(err, ErrBadMesh) {
		t.Fatalf("err = %v, want ErrBadMesh", err)
	}
	var we *WallError
	if !errors.As(err, &we) || we.Object != 0 {
		t.Errorf("err = %#v, want a wall of object 0", err)
	}
}

func TestGridTileRoundTrip(t *testing.T) {
	g, err := Build([]ObjectSpec{foldedPair(0)}, testEps)
	if err != nil {
		t.Fatal(err)
	}
	g.InitGrids(50)
	w := &g.Walls[0]
	grid := w.Grid
	if grid.NumTiles != grid.N*grid.N {
		t.Fatalf("NumTiles = %d, N = %d", grid.NumTiles, grid.N)
	}
	for tile := 0; tile < grid.NumTiles; tile++ {
		i, r, inv := grid.TileCoords(tile)
		if got := grid.TileIndex(i, r, inv); got != tile {
			t.Fatalf("tile %d -> (%d,%d,%v) -> %d", tile, i, r, inv, got)
		}
		c := w.TileCenter(tile)
		if got := w.UVToTile(c); got != tile {
			t.Fatalf("center of tile %d maps to tile %d", tile, got)
		}
		p := w.TileRandomPoint(tile, 0.9, 0.7)
		if got := w.UVToTile(p); got != tile {
			t.Fatalf("random point of tile %d maps to tile %d", tile, got)
		}
	}
}

func TestGridNeighborsAreSymmetric(t *testing.T) {
	grid := NewGrid(1, 16)
	for tile := 0; tile < grid.NumTiles; tile++ {
		for _, nb := range grid.TileNeighborsInWall(nil, tile) {
			back := grid.TileNeighborsInWall(nil, nb)
			found := false
			for _, x := range back {
				if x == tile {
					found = true
				}
			}
			if !found {
				t.Errorf("tile %d lists %d but not vice versa", tile, nb)
			}
		}
	}
}

func TestGridOccupancy(t *testing.T) {
	grid := NewGrid(1, 4)
	grid.SetMoleculeTile(2, 7)
	if grid.MoleculeOnTile(2) != 7 || grid.Occupied() != 1 {
		t.Fatal("tile 2 should hold molecule 7")
	}
	grid.ResetMoleculeTile(2)
	if grid.Occupied() != 0 {
		t.Error("occupied count not restored")
	}
	if math.Abs(grid.BindingFactor*grid.TileArea-1) > 1e-12 {
		t.Error("binding factor should be the inverse tile area")
	}
}

func TestCollideWall(t *testing.T) {
	g, err := Build([]ObjectSpec{foldedPair(0)}, testEps)
	if err != nil {
		t.Fatal(err)
	}
	w := &g.Walls[0] // z = 0 plane, normal +z
	tests := []struct {
		name     string
		start    r3.Vec
		move     r3.Vec
		wantHit  bool
		wantT    float64
		wantSide Side
	}{
		{"front hit", r3.Vec{X: 0.5, Y: 0.3, Z: 1}, r3.Vec{Z: -2}, true, 0.5, SideFront},
		{"back hit", r3.Vec{X: 0.5, Y: 0.3, Z: -1}, r3.Vec{Z: 4}, true, 0.25, SideBack},
		{"too short", r3.Vec{X: 0.5, Y: 0.3, Z: 1}, r3.Vec{Z: -0.5}, false, 0, 0},
		{"outside triangle", r3.Vec{X: 2, Y: 2, Z: 1}, r3.Vec{Z: -2}, false, 0, 0},
		{"parallel", r3.Vec{X: 0.5, Y: 0.3, Z: 1}, r3.Vec{X: 1}, false, 0, 0},
		{"ends on plane", r3.Vec{X: 0.5, Y: 0.3, Z: 1}, r3.Vec{Z: -1}, true, 1, SideFront},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hit, ok := CollideWall(w, tc.start, tc.move, testEps)
			if ok != tc.wantHit {
				t.Fatalf("hit = %v, want %v", ok, tc.wantHit)
			}
			if !ok {
				return
			}
			if math.Abs(hit.T-tc.wantT) > 1e-12 || hit.Side != tc.wantSide {
				t.Errorf("got t=%v side=%v, want t=%v side=%v", hit.T, hit.Side, tc.wantT, tc.wantSide)
			}
		})
	}
}

func TestFindEdgePoint(t *testing.T) {
	g, err := Build([]ObjectSpec{foldedPair(0)}, testEps)
	if err != nil {
		t.Fatal(err)
	}
	w := &g.Walls[0] // vertices (0,0) (1,0) (0.5,1)
	tests := []struct {
		name     string
		pos, d   r2.Vec
		wantEdge int
		wantT    float64
	}{
		{"stays inside", r2.Vec{X: 0.5, Y: 0.3}, r2.Vec{X: 0.1}, EdgeNone, 1},
		{"crosses bottom", r2.Vec{X: 0.5, Y: 0.3}, r2.Vec{Y: -0.6}, 0, 0.5},
		{"through vertex", r2.Vec{X: 0.5, Y: 0.3}, r2.Vec{Y: 1}, EdgeAmbiguous, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			edge, tt := FindEdgePoint(w, tc.pos, tc.d, 1e-6)
			if edge != tc.wantEdge {
				t.Fatalf("edge = %d, want %d", edge, tc.wantEdge)
			}
			if edge >= 0 && math.Abs(tt-tc.wantT) > 1e-12 {
				t.Errorf("t = %v, want %v", tt, tc.wantT)
			}
		})
	}
}

func TestReflectInEdge(t *testing.T) {
	g, err := Build([]ObjectSpec{foldedPair(0)}, testEps)
	if err != nil {
		t.Fatal(err)
	}
	d := ReflectInEdge(&g.Walls[0], 0, r2.Vec{X: 0.3, Y: -0.4})
	if math.Abs(d.X-0.3) > 1e-12 || math.Abs(d.Y-0.4) > 1e-12 {
		t.Errorf("reflected = %v, want (0.3, 0.4)", d)
	}
}

func TestRegionExpressions(t *testing.T) {
	g, err := Build([]ObjectSpec{foldedPair(0.2)}, testEps)
	if err != nil {
		t.Fatal(err)
	}
	leaf := func(name string) *RegionExpr { return &RegionExpr{Op: ExprRegion, Name: name} }
	tests := []struct {
		name string
		expr *RegionExpr
		want []int
	}{
		{"region", leaf("fold,top"), []int{0}},
		{"object", &RegionExpr{Op: ExprObject, Name: "fold"}, []int{0, 1}},
		{"difference", &RegionExpr{Op: ExprDifference, Left: leaf("fold,ALL"), Right: leaf("fold,top")}, []int{1}},
		{"intersection", &RegionExpr{Op: ExprIntersect, Left: leaf("fold,ALL"), Right: leaf("fold,top")}, []int{0}},
		{"nested union", &RegionExpr{Op: ExprUnion, Left: leaf("fold,top"),
			Right: &RegionExpr{Op: ExprDifference, Left: leaf("fold,ALL"), Right: leaf("fold,top")}}, []int{0, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := g.Eval(tc.expr)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
	if _, err := g.Eval(leaf("fold,missing")); err == nil {
		t.Error("unknown region should fail")
	}
}
