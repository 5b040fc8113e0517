// Package components defines the plain data records the engine mutates.
package components

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// MoleculeID is a stable molecule identifier. Ids are never reused.
type MoleculeID uint32

// NoMolecule marks an empty tile or an absent partner.
const NoMolecule MoleculeID = math.MaxUint32

// SpeciesID indexes the species table.
type SpeciesID int32

// NoSpecies marks an absent species reference.
const NoSpecies SpeciesID = -1

// TimeForever is used for unimolecular times that will never fire.
var TimeForever = math.Inf(1)

// Flags is a bit set of molecule status flags.
type Flags uint8

const (
	// FlagDefunct marks a logically destroyed molecule.
	FlagDefunct Flags = 1 << iota
	// FlagSurface marks a molecule bound to a wall tile.
	FlagSurface
	// FlagScheduleUnimol means the unimolecular time must be sampled
	// before the molecule is next diffused.
	FlagScheduleUnimol
)

// Molecule is a simulated particle. Volume and surface variants share one
// record; IsSurface selects which position fields are meaningful.
type Molecule struct {
	ID      MoleculeID
	Species SpeciesID
	Flags   Flags

	// DiffusionTime is the absolute time up to which the molecule has been
	// simulated.
	DiffusionTime float64
	// UnimolRxTime is the absolute time of the pending unimolecular
	// reaction, TimeForever when none.
	UnimolRxTime float64
	// ReleaseDelay is the offset into the current iteration at which a
	// molecule released mid-step starts diffusing.
	ReleaseDelay float64

	// Volume variant.
	Pos     r3.Vec
	Subpart int

	// Surface variant.
	Wall  int
	Tile  int
	Pos2D r2.Vec
}

// IsDefunct reports whether the molecule was logically destroyed.
func (m *Molecule) IsDefunct() bool { return m.Flags&FlagDefunct != 0 }

// IsSurface reports whether the molecule lives on a wall.
func (m *Molecule) IsSurface() bool { return m.Flags&FlagSurface != 0 }

// IsVolume reports whether the molecule diffuses in 3D.
func (m *Molecule) IsVolume() bool { return m.Flags&FlagSurface == 0 }

// Has reports whether all bits of f are set.
func (m *Molecule) Has(f Flags) bool { return m.Flags&f == f }

// Set sets the bits of f.
func (m *Molecule) Set(f Flags) { m.Flags |= f }

// Clear clears the bits of f.
func (m *Molecule) Clear(f Flags) { m.Flags &^= f }
