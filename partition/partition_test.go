package partition

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
)

// flatPair builds two coplanar walls in z=0 sharing the edge (0,0,0)-(1,0,0).
func flatPair(t *testing.T, density float64) *geometry.Geometry {
	t.Helper()
	g, err := geometry.Build([]geometry.ObjectSpec{{
		Name: "sheet",
		Vertices: []r3.Vec{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0.5, Y: 1, Z: 0},
			{X: 0.5, Y: -1, Z: 0},
		},
		Triangles: [][3]int{{0, 1, 2}, {1, 0, 3}},
	}}, 1e-9)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g.InitGrids(density)
	return g
}

func newTestPartition(t *testing.T, g *geometry.Geometry) *Partition {
	t.Helper()
	p, err := New(Config{Origin: r3.Vec{X: -2, Y: -2, Z: -2}, EdgeLength: 4, SubpartEdge: 1}, g, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSubpartIndex(t *testing.T) {
	p := newTestPartition(t, nil)
	tests := []struct {
		name string
		pos  r3.Vec
		want int
	}{
		{"origin corner", r3.Vec{X: -2, Y: -2, Z: -2}, 0},
		{"x step", r3.Vec{X: -0.5, Y: -2, Z: -2}, 1},
		{"y step", r3.Vec{X: -2, Y: -0.5, Z: -2}, 4},
		{"z step", r3.Vec{X: -2, Y: -2, Z: -0.5}, 16},
		{"upper face", r3.Vec{X: 2, Y: 2, Z: 2}, 63},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.SubpartIndex(tc.pos)
			if err != nil {
				t.Fatalf("SubpartIndex: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
	if _, err := p.SubpartIndex(r3.Vec{X: 2.5}); !errors.Is(err, ErrOutsidePartition) {
		t.Errorf("err = %v, want ErrOutsidePartition", err)
	}
}

func TestCrossedSubpartsOrder(t *testing.T) {
	p := newTestPartition(t, nil)
	start := r3.Vec{X: -1.5, Y: -1.5, Z: -1.5}

	got, clipped := p.CrossedSubparts(nil, start, r3.Vec{X: 2})
	if clipped {
		t.Fatal("segment inside partition reported as clipped")
	}
	want := []int{p.index(0, 0, 0), p.index(1, 0, 0), p.index(2, 0, 0)}
	if len(got) != len(want) {
		t.Fatalf("crossed %v, want subparts %v", got, want)
	}
	for i := range want {
		if got[i].Subpart != want[i] {
			t.Errorf("crossing %d = %d, want %d", i, got[i].Subpart, want[i])
		}
	}
	if got[1].TEnter != 0.25 || got[2].TEnter != 0.75 {
		t.Errorf("entry times = %v, %v, want 0.25, 0.75", got[1].TEnter, got[2].TEnter)
	}

	got, clipped = p.CrossedSubparts(nil, start, r3.Vec{X: -1})
	if !clipped || len(got) != 1 {
		t.Errorf("leaving segment: clipped=%v crossings=%d, want true, 1", clipped, len(got))
	}

	// Crossings must be visited in displacement order when moving backwards.
	got, _ = p.CrossedSubparts(nil, r3.Vec{X: 1.5, Y: 1.5, Z: 1.5}, r3.Vec{Z: -2})
	if len(got) != 3 || got[0].Subpart != p.index(3, 3, 3) || got[2].Subpart != p.index(3, 3, 1) {
		t.Errorf("backwards crossings = %v", got)
	}
}

func TestWallsRegisteredInSubparts(t *testing.T) {
	g := flatPair(t, 1)
	p := newTestPartition(t, g)
	si, _ := p.SubpartIndex(r3.Vec{X: 0.5, Y: 0.5, Z: 0})
	walls := p.WallsInSubpart(si)
	if len(walls) != 2 || walls[0] != 0 || walls[1] != 1 {
		t.Errorf("walls in subpart %d = %v, want [0 1]", si, walls)
	}
	far, _ := p.SubpartIndex(r3.Vec{X: -1.5, Y: -1.5, Z: -1.5})
	if len(p.WallsInSubpart(far)) != 0 {
		t.Error("distant subpart should hold no walls")
	}
}

func TestVolumeStore(t *testing.T) {
	p := newTestPartition(t, nil)
	a, err := p.AddVolumeMolecule(components.Molecule{Species: 0, Pos: r3.Vec{X: -1.5, Y: -1.5, Z: -1.5}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, _ := p.AddVolumeMolecule(components.Molecule{Species: 1, Pos: r3.Vec{X: -1.5, Y: -1.5, Z: -1.5}})
	if a.ID != 0 || b.ID != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", a.ID, b.ID)
	}
	if _, err := p.AddVolumeMolecule(components.Molecule{Pos: r3.Vec{X: 9}}); !errors.Is(err, ErrOutsidePartition) {
		t.Errorf("err = %v, want ErrOutsidePartition", err)
	}

	if ids := p.VolumeInSubpart(a.Subpart, 0); len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("species 0 in subpart = %v", ids)
	}

	if err := p.MoveVolumeMolecule(a, r3.Vec{X: 1.5, Y: -1.5, Z: -1.5}); err != nil {
		t.Fatalf("move: %v", err)
	}
	want, _ := p.SubpartIndex(a.Pos)
	if a.Subpart != want {
		t.Errorf("subpart = %d, want %d", a.Subpart, want)
	}
	if len(p.VolumeInSubpart(b.Subpart, 0)) != 0 || len(p.VolumeInSubpart(want, 0)) != 1 {
		t.Error("moved molecule not re-bucketed")
	}
	if err := p.MoveVolumeMolecule(a, r3.Vec{X: 3}); !errors.Is(err, ErrOutsidePartition) {
		t.Errorf("err = %v, want ErrOutsidePartition", err)
	}

	p.SetMoleculeAsDefunct(a)
	p.SetMoleculeAsDefunct(a)
	if p.NumLive() != 1 || p.Count(0) != 0 || p.Count(1) != 1 {
		t.Errorf("live = %d, counts = %v", p.NumLive(), p.Counts(nil))
	}
	if p.Get(a.ID) == nil || !p.Get(a.ID).IsDefunct() {
		t.Error("defunct molecule should stay reachable until compaction")
	}
	if len(p.VolumeInSubpart(a.Subpart, 0)) != 0 {
		t.Error("defunct molecule still indexed")
	}

	c, _ := p.AddVolumeMolecule(components.Molecule{Species: 0})
	if n := p.Compact(); n != 1 {
		t.Errorf("compacted %d, want 1", n)
	}
	if p.Get(a.ID) != nil {
		t.Error("reclaimed id still resolves")
	}
	ms := p.Molecules()
	if len(ms) != 2 || ms[0] != b || ms[1] != c || c.ID != 2 {
		t.Error("compaction must keep ids and creation order")
	}
}

func TestSurfaceTileBijection(t *testing.T) {
	g := flatPair(t, 8)
	p := newTestPartition(t, g)
	m, err := p.AddSurfaceMolecule(components.Molecule{Species: 1, Wall: 0, Tile: 0, Pos2D: g.Walls[0].TileCenter(0)})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if p.GetMoleculeOnTile(0, 0) != m.ID {
		t.Fatal("tile does not point back to molecule")
	}
	if _, err := p.AddSurfaceMolecule(components.Molecule{Species: 1, Wall: 0, Tile: 0}); err == nil {
		t.Error("adding onto an occupied tile should fail")
	}

	if err := p.MoveSurfaceMolecule(m, 1, 2, g.Walls[1].TileCenter(2)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if p.GetMoleculeOnTile(0, 0) != components.NoMolecule || p.GetMoleculeOnTile(1, 2) != m.ID {
		t.Error("occupancy not transferred")
	}
	if g.Walls[0].Grid.Occupied()+g.Walls[1].Grid.Occupied() != 1 {
		t.Error("exactly one tile should be occupied")
	}

	p.SetMoleculeAsDefunct(m)
	if p.GetMoleculeOnTile(1, 2) != components.NoMolecule {
		t.Error("defunct molecule still holds its tile")
	}
}

func TestFindNeighborTiles(t *testing.T) {
	g := flatPair(t, 8)
	p := newTestPartition(t, g)
	if g.Walls[0].Grid.N != 2 {
		t.Fatalf("grid N = %d, want 2", g.Walls[0].Grid.N)
	}
	got := p.FindNeighborTiles(nil, 0, 0)
	want := []TileRef{{Wall: 0, Tile: 1}, {Wall: 1, Tile: 2}}
	if len(got) != len(want) {
		t.Fatalf("neighbors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("neighbor %d = %v, want %v", i, got[i], want[i])
		}
	}

	// Neighbor relation across the edge is symmetric.
	back := p.FindNeighborTiles(nil, 1, 2)
	if !containsRef(back, TileRef{Wall: 0, Tile: 0}) {
		t.Errorf("neighbors of (1,2) = %v, want to contain (0,0)", back)
	}

	p.SetMoleculeTile(1, 2, 7)
	vacant := p.VacantNeighborTiles(nil, 0, 0)
	if len(vacant) != 1 || vacant[0] != (TileRef{Wall: 0, Tile: 1}) {
		t.Errorf("vacant = %v", vacant)
	}
	p.ResetMoleculeTile(1, 2)

	// Positions on wall 1 map back to the same world point.
	uv := g.Walls[1].TileCenter(2)
	if d := r2.Norm(r2.Sub(g.Walls[1].XYZToUV(g.Walls[1].UVToXYZ(uv)), uv)); d > 1e-12 {
		t.Errorf("round trip error %g", d)
	}
}
