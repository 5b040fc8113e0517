// Package partition is the uniform spatial index over the simulated volume
// together with the molecule store and grid tile bookkeeping it owns.
package partition

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
)

// ErrOutsidePartition is wrapped when a position falls outside the
// partition bounds. Callers treat it as fatal.
var ErrOutsidePartition = errors.New("position outside partition")

// Config sizes a partition.
type Config struct {
	Origin     r3.Vec
	EdgeLength float64
	// SubpartEdge is the edge length of one subpartition cube.
	SubpartEdge float64
}

// Partition buckets walls and volume molecules into cubic subpartitions and
// owns every molecule of the simulation.
type Partition struct {
	Origin  r3.Vec
	Edge    float64
	SubEdge float64
	// N is the number of subpartitions along each axis.
	N int

	geom *geometry.Geometry

	wallsIn [][]int
	volIn   []map[components.SpeciesID]*idSet

	store
}

// New creates a partition and registers every wall with the subpartitions
// its bounding box overlaps.
func New(cfg Config, geom *geometry.Geometry, numSpecies int) (*Partition, error) {
	if cfg.SubpartEdge <= 0 || cfg.EdgeLength <= 0 {
		return nil, fmt.Errorf("partition edge %g and subpartition edge %g must be positive", cfg.EdgeLength, cfg.SubpartEdge)
	}
	n := int(math.Ceil(cfg.EdgeLength/cfg.SubpartEdge - 1e-9))
	if n < 1 {
		n = 1
	}
	p := &Partition{
		Origin:  cfg.Origin,
		Edge:    float64(n) * cfg.SubpartEdge,
		SubEdge: cfg.SubpartEdge,
		N:       n,
		geom:    geom,
		wallsIn: make([][]int, n*n*n),
		volIn:   make([]map[components.SpeciesID]*idSet, n*n*n),
	}
	p.store.init(numSpecies)

	if geom != nil {
		for wi := range geom.Walls {
			lo, hi := geom.Walls[wi].Bounds(geom.Vertices)
			if !p.InBounds(lo) || !p.InBounds(hi) {
				return nil, fmt.Errorf("wall %d (object %d) extends beyond the partition: %w",
					wi, geom.Walls[wi].Object, ErrOutsidePartition)
			}
			for _, si := range p.SubpartsInBox(nil, lo, hi, p.SubEdge*1e-6) {
				p.wallsIn[si] = append(p.wallsIn[si], wi)
			}
		}
	}
	return p, nil
}

// Geometry returns the mesh the partition indexes.
func (p *Partition) Geometry() *geometry.Geometry { return p.geom }

// NumSubparts returns the total number of subpartitions.
func (p *Partition) NumSubparts() int { return p.N * p.N * p.N }

// InBounds reports whether pos lies inside the partition.
func (p *Partition) InBounds(pos r3.Vec) bool {
	d := r3.Sub(pos, p.Origin)
	return d.X >= 0 && d.Y >= 0 && d.Z >= 0 && d.X <= p.Edge && d.Y <= p.Edge && d.Z <= p.Edge
}

func (p *Partition) cell(v float64) int {
	c := int(math.Floor(v / p.SubEdge))
	if c == p.N && v <= p.Edge {
		// The upper face belongs to the last cell.
		c = p.N - 1
	}
	return c
}

// SubpartCoords returns the integer cell coordinates of pos, which may lie
// outside the partition.
func (p *Partition) SubpartCoords(pos r3.Vec) (x, y, z int) {
	d := r3.Sub(pos, p.Origin)
	return p.cell(d.X), p.cell(d.Y), p.cell(d.Z)
}

// SubpartIndex returns the subpartition containing pos.
func (p *Partition) SubpartIndex(pos r3.Vec) (int, error) {
	if !p.InBounds(pos) {
		return -1, fmt.Errorf("(%g, %g, %g): %w", pos.X, pos.Y, pos.Z, ErrOutsidePartition)
	}
	x, y, z := p.SubpartCoords(pos)
	return p.index(x, y, z), nil
}

func (p *Partition) index(x, y, z int) int { return x + p.N*(y+p.N*z) }

func (p *Partition) valid(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < p.N && y < p.N && z < p.N
}

// WallsInSubpart returns the walls overlapping subpartition si, in wall
// index order.
func (p *Partition) WallsInSubpart(si int) []int { return p.wallsIn[si] }

// Crossing is one subpartition visited by a segment, with the segment
// parameter at which it is entered.
type Crossing struct {
	Subpart int
	TEnter  float64
}

// CrossedSubparts appends the subpartitions crossed by start -> start+move in
// displacement order. The first entry contains start. clipped is true when the
// segment leaves the partition; the subpartitions outside are not listed.
func (p *Partition) CrossedSubparts(dst []Crossing, start, move r3.Vec) (out []Crossing, clipped bool) {
	x, y, z := p.SubpartCoords(start)
	if !p.valid(x, y, z) {
		return dst, true
	}
	cur := [3]int{x, y, z}
	s := [3]float64{start.X - p.Origin.X, start.Y - p.Origin.Y, start.Z - p.Origin.Z}
	m := [3]float64{move.X, move.Y, move.Z}

	var step [3]int
	var tMax, tDelta [3]float64
	for a := 0; a < 3; a++ {
		switch {
		case m[a] > 0:
			step[a] = 1
			tMax[a] = (float64(cur[a]+1)*p.SubEdge - s[a]) / m[a]
			tDelta[a] = p.SubEdge / m[a]
		case m[a] < 0:
			step[a] = -1
			tMax[a] = (float64(cur[a])*p.SubEdge - s[a]) / m[a]
			tDelta[a] = -p.SubEdge / m[a]
		default:
			tMax[a] = math.Inf(1)
			tDelta[a] = math.Inf(1)
		}
	}

	dst = append(dst, Crossing{Subpart: p.index(cur[0], cur[1], cur[2])})
	for {
		a := 0
		if tMax[1] < tMax[a] {
			a = 1
		}
		if tMax[2] < tMax[a] {
			a = 2
		}
		t := tMax[a]
		if t > 1 {
			return dst, false
		}
		cur[a] += step[a]
		tMax[a] += tDelta[a]
		if !p.valid(cur[0], cur[1], cur[2]) {
			return dst, true
		}
		dst = append(dst, Crossing{Subpart: p.index(cur[0], cur[1], cur[2]), TEnter: math.Max(t, 0)})
	}
}

// SubpartsInBox appends, in index order, every subpartition overlapping the
// box [lo-pad, hi+pad] clipped to the partition.
func (p *Partition) SubpartsInBox(dst []int, lo, hi r3.Vec, pad float64) []int {
	x0, y0, z0 := p.SubpartCoords(r3.Sub(lo, r3.Vec{X: pad, Y: pad, Z: pad}))
	x1, y1, z1 := p.SubpartCoords(r3.Add(hi, r3.Vec{X: pad, Y: pad, Z: pad}))
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if v >= p.N {
			return p.N - 1
		}
		return v
	}
	x0, y0, z0, x1, y1, z1 = clamp(x0), clamp(y0), clamp(z0), clamp(x1), clamp(y1), clamp(z1)
	for z := z0; z <= z1; z++ {
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				dst = append(dst, p.index(x, y, z))
			}
		}
	}
	return dst
}

// SegmentSubparts appends the subpartitions within radius of the segment
// start -> start+move, approximated by its padded bounding box.
func (p *Partition) SegmentSubparts(dst []int, start, move r3.Vec, radius float64) []int {
	end := r3.Add(start, move)
	lo := r3.Vec{X: math.Min(start.X, end.X), Y: math.Min(start.Y, end.Y), Z: math.Min(start.Z, end.Z)}
	hi := r3.Vec{X: math.Max(start.X, end.X), Y: math.Max(start.Y, end.Y), Z: math.Max(start.Z, end.Z)}
	return p.SubpartsInBox(dst, lo, hi, radius)
}

// VolumeInSubpart returns the ids of live volume molecules of species s in
// subpartition si. The order is unspecified; callers sort collisions.
func (p *Partition) VolumeInSubpart(si int, s components.SpeciesID) []components.MoleculeID {
	set := p.volIn[si][s]
	if set == nil {
		return nil
	}
	return set.ids
}

func (p *Partition) indexVolume(m *components.Molecule) {
	sets := p.volIn[m.Subpart]
	if sets == nil {
		sets = make(map[components.SpeciesID]*idSet)
		p.volIn[m.Subpart] = sets
	}
	set := sets[m.Species]
	if set == nil {
		set = newIDSet()
		sets[m.Species] = set
	}
	set.add(m.ID)
}

func (p *Partition) unindexVolume(m *components.Molecule) {
	if set := p.volIn[m.Subpart][m.Species]; set != nil {
		set.remove(m.ID)
	}
}
