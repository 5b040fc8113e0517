package partition

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/cellsim/components"
)

// store owns molecule records. Ids are assigned sequentially and never
// reused; the molecules slice keeps creation order.
type store struct {
	molecules []*components.Molecule
	byID      map[components.MoleculeID]*components.Molecule
	nextID    components.MoleculeID
	live      []int
	numLive   int
}

func (s *store) init(numSpecies int) {
	s.byID = make(map[components.MoleculeID]*components.Molecule)
	s.live = make([]int, numSpecies)
}

func (s *store) insert(m components.Molecule) *components.Molecule {
	m.ID = s.nextID
	s.nextID++
	rec := &m
	s.molecules = append(s.molecules, rec)
	s.byID[rec.ID] = rec
	s.live[rec.Species]++
	s.numLive++
	return rec
}

// Get returns the molecule with id, or nil when the id was never assigned or
// has been reclaimed by Compact. Defunct molecules are still returned.
func (s *store) Get(id components.MoleculeID) *components.Molecule { return s.byID[id] }

// Molecules returns every stored molecule in creation order, defunct ones
// included. The slice must not be modified.
func (s *store) Molecules() []*components.Molecule { return s.molecules }

// NextID returns the id the next added molecule will receive.
func (s *store) NextID() components.MoleculeID { return s.nextID }

// NumLive returns the number of molecules that are not defunct.
func (s *store) NumLive() int { return s.numLive }

// Count returns the number of live molecules of species sp.
func (s *store) Count(sp components.SpeciesID) int { return s.live[sp] }

// Counts copies the live count of every species into dst.
func (s *store) Counts(dst []int) []int {
	return append(dst[:0], s.live...)
}

// AddVolumeMolecule stores a copy of m as a new volume molecule at m.Pos and
// returns the live record.
func (p *Partition) AddVolumeMolecule(m components.Molecule) (*components.Molecule, error) {
	si, err := p.SubpartIndex(m.Pos)
	if err != nil {
		return nil, fmt.Errorf("add volume molecule of species %d: %w", m.Species, err)
	}
	m.Subpart = si
	m.Flags &^= components.FlagSurface | components.FlagDefunct
	m.Wall, m.Tile = -1, -1
	rec := p.insert(m)
	p.indexVolume(rec)
	return rec, nil
}

// AddSurfaceMolecule stores a copy of m on (m.Wall, m.Tile). The tile must
// exist and be vacant.
func (p *Partition) AddSurfaceMolecule(m components.Molecule) (*components.Molecule, error) {
	if err := p.checkTile(m.Wall, m.Tile); err != nil {
		return nil, fmt.Errorf("add surface molecule of species %d: %w", m.Species, err)
	}
	g := p.geom.Walls[m.Wall].Grid
	if occ := g.MoleculeOnTile(m.Tile); occ != components.NoMolecule {
		return nil, fmt.Errorf("add surface molecule: tile %d of wall %d is held by molecule %d", m.Tile, m.Wall, occ)
	}
	m.Flags = (m.Flags | components.FlagSurface) &^ components.FlagDefunct
	m.Subpart = -1
	rec := p.insert(m)
	g.SetMoleculeTile(rec.Tile, rec.ID)
	return rec, nil
}

// SetMoleculeAsDefunct logically destroys m. Its id stays valid and the
// record stays reachable until Compact; surface molecules release their tile.
func (p *Partition) SetMoleculeAsDefunct(m *components.Molecule) {
	if m.IsDefunct() {
		return
	}
	if m.IsSurface() {
		g := p.geom.Walls[m.Wall].Grid
		if g.MoleculeOnTile(m.Tile) == m.ID {
			g.ResetMoleculeTile(m.Tile)
		}
	} else {
		p.unindexVolume(m)
	}
	m.Set(components.FlagDefunct)
	p.live[m.Species]--
	p.numLive--
}

// MoveVolumeMolecule updates m.Pos and re-buckets m if it changed
// subpartition.
func (p *Partition) MoveVolumeMolecule(m *components.Molecule, pos r3.Vec) error {
	si, err := p.SubpartIndex(pos)
	if err != nil {
		return fmt.Errorf("molecule %d: %w", m.ID, err)
	}
	if si != m.Subpart {
		p.unindexVolume(m)
		m.Subpart = si
		m.Pos = pos
		p.indexVolume(m)
		return nil
	}
	m.Pos = pos
	return nil
}

// MoveSurfaceMolecule relocates m to (wall, tile) at uv. The destination tile
// must be vacant unless it is m's current tile.
func (p *Partition) MoveSurfaceMolecule(m *components.Molecule, wall, tile int, uv r2.Vec) error {
	if err := p.checkTile(wall, tile); err != nil {
		return fmt.Errorf("molecule %d: %w", m.ID, err)
	}
	if wall == m.Wall && tile == m.Tile {
		m.Pos2D = uv
		return nil
	}
	dst := p.geom.Walls[wall].Grid
	if occ := dst.MoleculeOnTile(tile); occ != components.NoMolecule {
		return fmt.Errorf("molecule %d: tile %d of wall %d is held by molecule %d", m.ID, tile, wall, occ)
	}
	p.ResetMoleculeTile(m.Wall, m.Tile)
	dst.SetMoleculeTile(tile, m.ID)
	m.Wall, m.Tile, m.Pos2D = wall, tile, uv
	return nil
}

// SurfacePosition returns the world-space position of surface molecule m.
func (p *Partition) SurfacePosition(m *components.Molecule) r3.Vec {
	return p.geom.Walls[m.Wall].UVToXYZ(m.Pos2D)
}

// Compact physically drops defunct molecules. Ids and creation order of the
// remaining molecules are unchanged. It returns the number reclaimed.
func (p *Partition) Compact() int {
	kept := p.molecules[:0]
	n := 0
	for _, m := range p.molecules {
		if m.IsDefunct() {
			delete(p.byID, m.ID)
			n++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(p.molecules); i++ {
		p.molecules[i] = nil
	}
	p.molecules = kept
	return n
}
