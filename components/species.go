package components

// SpeciesKind distinguishes volume, surface and surface-class species.
type SpeciesKind uint8

const (
	KindVolume SpeciesKind = iota
	KindSurface
	// KindSurfaceClass species never exist as molecules; they tag regions
	// and select reflect/transparent/absorb semantics.
	KindSurfaceClass
)

func (k SpeciesKind) String() string {
	switch k {
	case KindVolume:
		return "volume"
	case KindSurface:
		return "surface"
	case KindSurfaceClass:
		return "surface_class"
	}
	return "unknown"
}

// Species holds per-species diffusion parameters.
type Species struct {
	ID   SpeciesID
	Name string
	Kind SpeciesKind

	// D is the diffusion constant (um^2/s).
	D float64
	// TimeStep is the species diffusion time step (s).
	TimeStep float64
	// SpaceStep is sqrt(4*D*TimeStep) in simulation length units.
	SpaceStep float64
}

// CanDiffuse reports whether the species moves at all.
func (s *Species) CanDiffuse() bool { return s.D > 0 && s.SpaceStep > 0 }

// IsSurface reports whether molecules of this species live on walls.
func (s *Species) IsSurface() bool { return s.Kind == KindSurface }

// IsVolume reports whether molecules of this species diffuse in 3D.
func (s *Species) IsVolume() bool { return s.Kind == KindVolume }
