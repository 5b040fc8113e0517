package systems

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
)

// FatalKind classifies unrecoverable engine failures.
type FatalKind uint8

const (
	FatalOutsidePartition FatalKind = iota
	FatalGeometry
	FatalInvariant
)

func (k FatalKind) String() string {
	switch k {
	case FatalOutsidePartition:
		return "outside partition"
	case FatalGeometry:
		return "geometry"
	}
	return "invariant violation"
}

// FatalError terminates a run. Wall and Object are -1 when not applicable.
type FatalError struct {
	Kind     FatalKind
	Molecule components.MoleculeID
	Wall     int
	Object   int
	Err      error
}

func (e *FatalError) Error() string {
	msg := fmt.Sprintf("fatal %s: molecule %d", e.Kind, e.Molecule)
	if e.Wall != geometry.NoWall {
		msg += fmt.Sprintf(" wall %d object %d", e.Wall, e.Object)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *Engine) fatal(kind FatalKind, m *components.Molecule, wall int, err error) *FatalError {
	fe := &FatalError{Kind: kind, Molecule: components.NoMolecule, Wall: wall, Object: -1, Err: err}
	if m != nil {
		fe.Molecule = m.ID
	}
	if wall != geometry.NoWall {
		fe.Object = e.Geom.Walls[wall].Object
	}
	return fe
}

// GeometryError turns a mesh failure that names a wall into a FatalGeometry
// error. Other errors are returned unchanged.
func GeometryError(err error) error {
	var we *geometry.WallError
	if !errors.As(err, &we) {
		return err
	}
	return &FatalError{Kind: FatalGeometry, Molecule: components.NoMolecule, Wall: we.Wall, Object: we.Object, Err: err}
}
