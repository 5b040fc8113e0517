package sim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/config"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
	"github.com/pthm-cable/cellsim/rng"
)

// ErrRegionFull is returned when a surface release finds no vacant tile.
var ErrRegionFull = errors.New("no vacant tile in release region")

// ReleaseShape selects how a release site distributes its molecules.
type ReleaseShape uint8

const (
	ShapePoint ReleaseShape = iota
	ShapeBox
	ShapeSphere
	ShapeRegion
)

// Release is a one-shot release site resolved against the model.
type Release struct {
	Name    string
	Species components.SpeciesID
	Number  int
	Shape   ReleaseShape
	Center  r3.Vec
	Size    r3.Vec
	Radius  float64
	// Walls is the evaluated region expression of a surface release.
	Walls []int
	// Time is the absolute release time in seconds.
	Time float64

	done bool
}

// Done reports whether the site has already released.
func (r *Release) Done() bool { return r.done }

func buildReleases(cfg *config.Config, net *reactions.Network, geom *geometry.Geometry) ([]Release, error) {
	out := make([]Release, 0, len(cfg.Releases))
	for i, rc := range cfg.Releases {
		sp, ok := net.SpeciesByName(rc.Species)
		if !ok {
			return nil, fmt.Errorf("release %d (%s): %w %q", i, rc.Name, reactions.ErrUnknownSpecies, rc.Species)
		}
		rel := Release{
			Name:    rc.Name,
			Species: sp,
			Number:  rc.Number,
			Center:  toVec(rc.Location),
			Size:    toVec(rc.Size),
			Radius:  rc.Radius,
			Time:    rc.Time,
		}
		switch rc.Shape {
		case "point":
			rel.Shape = ShapePoint
		case "box":
			rel.Shape = ShapeBox
		case "sphere":
			rel.Shape = ShapeSphere
		case "region":
			rel.Shape = ShapeRegion
			if geom == nil {
				return nil, fmt.Errorf("release %d (%s): region release without geometry", i, rc.Name)
			}
			expr, err := geometry.ParseRegionExpr(rc.Region)
			if err != nil {
				return nil, fmt.Errorf("release %d (%s): %w", i, rc.Name, err)
			}
			walls, err := geom.Eval(expr)
			if err != nil {
				return nil, fmt.Errorf("release %d (%s): %w", i, rc.Name, err)
			}
			if len(walls) == 0 {
				return nil, fmt.Errorf("release %d (%s): region %q has no walls", i, rc.Name, rc.Region)
			}
			rel.Walls = walls
		default:
			return nil, fmt.Errorf("release %d (%s): unknown shape %q", i, rc.Name, rc.Shape)
		}
		out = append(out, rel)
	}
	return out, nil
}

// releaseDue places every site whose time falls before the end of the step
// starting at stepStart. A site inside the step gets a release delay so the
// engine only diffuses it for the remainder of the step.
func releaseDue(part *partition.Partition, r rng.Stream, sites []Release, stepStart, dt float64) (int, error) {
	placed := 0
	for i := range sites {
		site := &sites[i]
		if site.done || site.Time >= stepStart+dt-timeEps {
			continue
		}
		delay := math.Max(0, site.Time-stepStart)
		if delay < timeEps {
			delay = 0
		}
		var (
			n   int
			err error
		)
		if site.Shape == ShapeRegion {
			n, err = releaseOnRegion(part, r, site, stepStart+delay, delay)
		} else {
			n, err = releaseInVolume(part, r, site, stepStart+delay, delay)
		}
		placed += n
		site.done = true
		if err != nil {
			return placed, fmt.Errorf("release %s: %w", site.Name, err)
		}
	}
	return placed, nil
}

const timeEps = 1e-12

func newMolecule(sp components.SpeciesID, t, delay float64) components.Molecule {
	return components.Molecule{
		Species:       sp,
		Flags:         components.FlagScheduleUnimol,
		DiffusionTime: t,
		UnimolRxTime:  components.TimeForever,
		ReleaseDelay:  delay,
	}
}

func releaseInVolume(part *partition.Partition, r rng.Stream, site *Release, t, delay float64) (int, error) {
	for k := 0; k < site.Number; k++ {
		m := newMolecule(site.Species, t, delay)
		m.Pos = volumePoint(r, site)
		if _, err := part.AddVolumeMolecule(m); err != nil {
			return k, err
		}
	}
	return site.Number, nil
}

// volumePoint draws one position for a volume site. Spheres use rejection
// sampling from the enclosing cube.
func volumePoint(r rng.Stream, site *Release) r3.Vec {
	switch site.Shape {
	case ShapeBox:
		return r3.Vec{
			X: site.Center.X + (r.Dbl()-0.5)*site.Size.X,
			Y: site.Center.Y + (r.Dbl()-0.5)*site.Size.Y,
			Z: site.Center.Z + (r.Dbl()-0.5)*site.Size.Z,
		}
	case ShapeSphere:
		for {
			p := r3.Vec{X: 2*r.Dbl() - 1, Y: 2*r.Dbl() - 1, Z: 2*r.Dbl() - 1}
			if r3.Norm2(p) <= 1 {
				return r3.Add(site.Center, r3.Scale(site.Radius, p))
			}
		}
	}
	return site.Center
}

// releaseOnRegion places surface molecules on vacant tiles of the site's
// walls. Walls are chosen with probability proportional to their area, then
// a vacant tile uniformly, then a uniform point inside that tile.
func releaseOnRegion(part *partition.Partition, r rng.Stream, site *Release, t, delay float64) (int, error) {
	geom := part.Geometry()
	walls := append([]int(nil), site.Walls...)
	var vacant []int

	for k := 0; k < site.Number; k++ {
		for {
			if len(walls) == 0 {
				return k, ErrRegionFull
			}
			wi := pickByArea(geom, walls, r.Dbl())
			w := &geom.Walls[walls[wi]]
			vacant = vacantTiles(vacant[:0], w.Grid)
			if len(vacant) == 0 {
				walls = append(walls[:wi], walls[wi+1:]...)
				continue
			}
			tile := vacant[r.Uint(uint32(len(vacant)))]
			m := newMolecule(site.Species, t, delay)
			m.Wall = walls[wi]
			m.Tile = tile
			m.Pos2D = w.TileRandomPoint(tile, r.Dbl(), r.Dbl())
			if _, err := part.AddSurfaceMolecule(m); err != nil {
				return k, err
			}
			break
		}
	}
	return site.Number, nil
}

// pickByArea maps u in [0,1) onto walls weighted by area and returns the
// index into walls.
func pickByArea(geom *geometry.Geometry, walls []int, u float64) int {
	var total float64
	for _, wi := range walls {
		total += geom.Walls[wi].Area
	}
	target := u * total
	var acc float64
	for i, wi := range walls {
		acc += geom.Walls[wi].Area
		if target < acc {
			return i
		}
	}
	return len(walls) - 1
}

func vacantTiles(dst []int, g *geometry.Grid) []int {
	for tile := 0; tile < g.NumTiles; tile++ {
		if g.MoleculeOnTile(tile) == components.NoMolecule {
			dst = append(dst, tile)
		}
	}
	return dst
}
