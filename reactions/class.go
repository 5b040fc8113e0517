// Package reactions holds the reaction network the engine consults: reaction
// classes keyed by reactant species, cumulative pathway tables and the random
// tests that pick a pathway.
package reactions

import (
	"github.com/pthm-cable/cellsim/components"
)

// ClassType selects how a reaction class behaves. Only Standard classes draw
// random numbers; the others are deterministic wall/border semantics.
type ClassType uint8

const (
	Standard ClassType = iota
	Reflective
	Transparent
	Absorptive
)

func (t ClassType) String() string {
	switch t {
	case Reflective:
		return "reflective"
	case Transparent:
		return "transparent"
	case Absorptive:
		return "absorptive"
	}
	return "standard"
}

// ParseClassType maps a config keyword to a ClassType.
func ParseClassType(s string) (ClassType, bool) {
	switch s {
	case "", "standard":
		return Standard, true
	case "reflective":
		return Reflective, true
	case "transparent":
		return Transparent, true
	case "absorptive":
		return Absorptive, true
	}
	return Standard, false
}

// SideAny accepts collisions from either face of a wall.
const SideAny int8 = 0

// Product is one product of a pathway. Orientation picks the wall side for
// volume products created from surface reactants (+1 front, -1 back, 0 same
// side as the volume reactant).
type Product struct {
	Species     components.SpeciesID
	Orientation int8
}

// Pathway is one possible outcome of a reaction class.
type Pathway struct {
	Name     string
	Products []Product
	// Prob is the per-collision probability for bimolecular classes, or the
	// rate for unimolecular ones.
	Prob float64
	// Kept maps reactant slot -> index of the product that keeps the
	// reactant's identity, or -1 when the reactant is destroyed.
	Kept []int
}

// IsKept reports whether product index pi is a surviving reactant.
func (p *Pathway) IsKept(pi int) bool {
	for _, k := range p.Kept {
		if k == pi {
			return true
		}
	}
	return false
}

// ReactionClass is the set of pathways for one ordered reactant tuple.
type ReactionClass struct {
	Index     int
	Name      string
	Reactants []components.SpeciesID
	Type      ClassType
	// Side restricts volume/wall collisions to one face (SideAny for both).
	Side     int8
	Pathways []Pathway
	// CumProbs is monotonically non-decreasing; pathway i owns
	// [CumProbs[i-1], CumProbs[i]).
	CumProbs []float64
	// MaxFixedP is the last cumulative value; a draw at or above it means no
	// reaction. For unimolecular classes it is the total rate.
	MaxFixedP float64
}

// IsUnimol reports whether the class has a single reactant.
func (c *ReactionClass) IsUnimol() bool { return len(c.Reactants) == 1 }

// IsReactive reports whether the class can ever fire a pathway.
func (c *ReactionClass) IsReactive() bool { return c.Type == Standard && c.MaxFixedP > 0 }

// Slot returns the reactant slot holding species s, skipping slot skip.
func (c *ReactionClass) Slot(s components.SpeciesID, skip int) int {
	for i, r := range c.Reactants {
		if i != skip && r == s {
			return i
		}
	}
	return -1
}

func (c *ReactionClass) rebuild() {
	c.CumProbs = c.CumProbs[:0]
	total := 0.0
	for _, p := range c.Pathways {
		total += p.Prob
		c.CumProbs = append(c.CumProbs, total)
	}
	c.MaxFixedP = total
}

// assignKept pairs every reactant with the first unused product of the same
// species, in reactant order.
func (c *ReactionClass) assignKept(p *Pathway) {
	p.Kept = make([]int, len(c.Reactants))
	used := make([]bool, len(p.Products))
	for ri, rs := range c.Reactants {
		p.Kept[ri] = -1
		for pi, prod := range p.Products {
			if !used[pi] && prod.Species == rs {
				used[pi] = true
				p.Kept[ri] = pi
				break
			}
		}
	}
}
