package reactions

import (
	"fmt"
	"math"

	"github.com/pthm-cable/cellsim/components"
)

// Avogadro's number.
const Avogadro = 6.02214076e23

// litersToUm3 converts a per-molar rate into um^3 per molecule.
const litersToUm3 = 1e15

// Params carries the simulation constants needed to turn rates into
// per-collision probabilities.
type Params struct {
	TimeStep float64
	// RxRadius3D is the volume interaction radius (um).
	RxRadius3D float64
	// TileArea is the reference surface tile area (um^2).
	TileArea float64
}

// meanDisplacement is the mean length of a 3D Gaussian step with diffusion
// constant d over dt.
func meanDisplacement(d, dt float64) float64 { return math.Sqrt(16 * d * dt / math.Pi) }

// meanPerpendicular is the mean absolute displacement along one axis.
func meanPerpendicular(d, dt float64) float64 { return math.Sqrt(4 * d * dt / math.Pi) }

// rateToProbability converts a macroscopic rate into a per-collision
// probability. Unimolecular rates pass through unchanged (1/s).
func (n *Network) rateToProbability(reactants []components.SpeciesID, rate float64, p Params) (float64, error) {
	if rate < 0 {
		return 0, fmt.Errorf("negative rate %g", rate)
	}
	if len(reactants) == 1 {
		return rate, nil
	}
	a, b := &n.species[reactants[0]], &n.species[reactants[1]]
	if a.Kind != components.KindVolume && b.Kind == components.KindVolume {
		a, b = b, a
	}
	dt := p.TimeStep
	switch {
	case a.Kind == components.KindVolume && b.Kind == components.KindVolume:
		l := meanDisplacement(a.D+b.D, dt)
		if l == 0 || p.RxRadius3D == 0 {
			return 0, fmt.Errorf("cannot convert rate between non-diffusing species %q and %q", a.Name, b.Name)
		}
		return rate * litersToUm3 / Avogadro * dt / (math.Pi * p.RxRadius3D * p.RxRadius3D * l), nil
	case a.Kind == components.KindVolume:
		l := meanPerpendicular(a.D, dt)
		if l == 0 || p.TileArea == 0 {
			return 0, fmt.Errorf("cannot convert rate for non-diffusing volume species %q", a.Name)
		}
		return 2 * rate * litersToUm3 / Avogadro * dt / (p.TileArea * l), nil
	default:
		if p.TileArea == 0 {
			return 0, fmt.Errorf("surface rate needs a tile area")
		}
		return rate * dt / p.TileArea, nil
	}
}
