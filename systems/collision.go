package systems

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/reactions"
)

// CollisionKind names the collision variants.
type CollisionKind uint8

const (
	KindVolVol CollisionKind = iota
	KindVolSurf
	KindSurfSurf
	KindVolWall
	KindUnimol
)

func (k CollisionKind) String() string {
	switch k {
	case KindVolVol:
		return "vol_vol"
	case KindVolSurf:
		return "vol_surf"
	case KindSurfSurf:
		return "surf_surf"
	case KindVolWall:
		return "vol_wall"
	}
	return "unimol"
}

// Collision is one detected event along a displacement. T is the fraction
// of the displacement at which it happens and always lies in [0, 1].
type Collision interface {
	Kind() CollisionKind
	Time() float64
}

// VolVolCollision is a moving volume molecule passing within interaction
// distance of another volume molecule.
type VolVolCollision struct {
	Diffusing components.MoleculeID
	Partner   components.MoleculeID
	T         float64
	Pos       r3.Vec
	Class     *reactions.ReactionClass
}

// VolWallCollision is a volume molecule's displacement crossing a wall.
type VolWallCollision struct {
	Diffusing components.MoleculeID
	Wall      int
	T         float64
	Pos       r3.Vec
	UV        r2.Vec
	Side      geometry.Side
}

// VolSurfCollision is a volume molecule meeting a surface molecule on the
// tile where it hit a wall.
type VolSurfCollision struct {
	Diffusing components.MoleculeID
	Partner   components.MoleculeID
	Wall      int
	T         float64
	Pos       r3.Vec
	Side      geometry.Side
	Class     *reactions.ReactionClass
}

// SurfSurfCollision pairs a surface molecule with a molecule on a
// neighboring tile after it has moved.
type SurfSurfCollision struct {
	Diffusing components.MoleculeID
	Partner   components.MoleculeID
	Class     *reactions.ReactionClass
}

// UnimolCollision is a scheduled unimolecular reaction. T is the fraction
// of the current step at which it fires.
type UnimolCollision struct {
	Molecule components.MoleculeID
	T        float64
	Class    *reactions.ReactionClass
}

func (VolVolCollision) Kind() CollisionKind   { return KindVolVol }
func (VolWallCollision) Kind() CollisionKind  { return KindVolWall }
func (VolSurfCollision) Kind() CollisionKind  { return KindVolSurf }
func (SurfSurfCollision) Kind() CollisionKind { return KindSurfSurf }
func (UnimolCollision) Kind() CollisionKind   { return KindUnimol }

func (c VolVolCollision) Time() float64  { return c.T }
func (c VolWallCollision) Time() float64 { return c.T }
func (c VolSurfCollision) Time() float64 { return c.T }
func (SurfSurfCollision) Time() float64  { return 1 }
func (c UnimolCollision) Time() float64  { return c.T }

// partnerID returns the colliding molecule id, or NoMolecule for walls and
// unimolecular events.
func partnerID(c Collision) components.MoleculeID {
	switch v := c.(type) {
	case VolVolCollision:
		return v.Partner
	case VolSurfCollision:
		return v.Partner
	case SurfSurfCollision:
		return v.Partner
	}
	return components.NoMolecule
}

func wallIndex(c Collision) int {
	switch v := c.(type) {
	case VolWallCollision:
		return v.Wall
	case VolSurfCollision:
		return v.Wall
	}
	return geometry.NoWall
}

// siteOf locates the reaction a collision triggers at absolute time t.
func (e *Engine) siteOf(c Collision, t float64) reactionSite {
	site := reactionSite{Wall: geometry.NoWall, Time: t}
	switch v := c.(type) {
	case VolVolCollision:
		site.Pos = v.Pos
	case VolWallCollision:
		site.Pos, site.Wall, site.Side = v.Pos, v.Wall, v.Side
	case VolSurfCollision:
		site.Pos, site.Wall, site.Side = v.Pos, v.Wall, v.Side
	case SurfSurfCollision:
		site.Pos = e.Part.SurfacePosition(e.Part.Get(v.Diffusing))
	case UnimolCollision:
		m := e.Part.Get(v.Molecule)
		if m.IsSurface() {
			site.Pos = e.Part.SurfacePosition(m)
		} else {
			site.Pos = m.Pos
		}
	}
	return site
}

// SortCollisions orders collisions by time. At equal time wall events come
// first, then molecule events by descending partner id.
func SortCollisions(cs []Collision) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Time() != b.Time() {
			return a.Time() < b.Time()
		}
		wa, wb := wallIndex(a), wallIndex(b)
		pa, pb := partnerID(a), partnerID(b)
		aWall := wa != geometry.NoWall && pa == components.NoMolecule
		bWall := wb != geometry.NoWall && pb == components.NoMolecule
		if aWall != bWall {
			return aWall
		}
		if aWall {
			return wa < wb
		}
		return pa > pb
	})
}

// collideMol tests the segment start -> start+move against a sphere of
// radius sigma around target. A closest approach of exactly sigma counts as
// a hit; so does an endpoint exactly at t = 1.
func collideMol(start, move, target r3.Vec, sigma float64) (t float64, pos r3.Vec, ok bool) {
	dir := r3.Sub(target, start)
	moveLen2 := r3.Dot(move, move)
	dirLen2 := r3.Dot(dir, dir)
	sigma2 := sigma * sigma
	if moveLen2 == 0 {
		if dirLen2 <= sigma2 {
			return 0, start, true
		}
		return 0, r3.Vec{}, false
	}
	d := r3.Dot(move, dir)
	if d < 0 || d > moveLen2 {
		return 0, r3.Vec{}, false
	}
	if moveLen2*dirLen2-d*d > moveLen2*sigma2 {
		return 0, r3.Vec{}, false
	}
	t = d / moveLen2
	return t, r3.Add(start, r3.Scale(t, move)), true
}
