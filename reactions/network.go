package reactions

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pthm-cable/cellsim/components"
)

// ErrUnknownSpecies is wrapped when a rule names a species that was not
// declared.
var ErrUnknownSpecies = errors.New("unknown species")

// ProductSpec names one product of a rule.
type ProductSpec struct {
	Species     string
	Orientation int8
}

// Rule is one reaction rule as declared by the model. Probability >= 0 is
// used verbatim as the per-collision probability; otherwise Rate is converted.
type Rule struct {
	Name        string
	Reactants   []string
	Products    []ProductSpec
	Rate        float64
	Probability float64
	Type        ClassType
	Side        int8
}

type pairKey struct{ a, b components.SpeciesID }

func keyOf(a, b components.SpeciesID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Network answers reaction lookups by reactant species.
type Network struct {
	species []components.Species
	byName  map[string]components.SpeciesID
	classes []*ReactionClass
	unimol  map[components.SpeciesID]*ReactionClass
	bimol   map[pairKey]*ReactionClass
	// partners lists, per volume species, the volume species it can react
	// with, sorted by id.
	partners map[components.SpeciesID][]components.SpeciesID
	rules    []string
}

// NewNetwork builds the lookup tables. Rules with the same reactant tuple are
// merged into one class; pathways keep declaration order.
func NewNetwork(species []components.Species, rules []Rule, params Params) (*Network, error) {
	n := &Network{
		species:  species,
		byName:   make(map[string]components.SpeciesID, len(species)),
		unimol:   make(map[components.SpeciesID]*ReactionClass),
		bimol:    make(map[pairKey]*ReactionClass),
		partners: make(map[components.SpeciesID][]components.SpeciesID),
	}
	for i := range species {
		if species[i].ID != components.SpeciesID(i) {
			return nil, fmt.Errorf("species %q has id %d at index %d", species[i].Name, species[i].ID, i)
		}
		n.byName[species[i].Name] = species[i].ID
	}

	for ri, rule := range rules {
		if err := n.addRule(ri, rule, params); err != nil {
			name := rule.Name
			if name == "" {
				name = fmt.Sprintf("#%d", ri)
			}
			return nil, fmt.Errorf("reaction %s: %w", name, err)
		}
	}
	for _, c := range n.classes {
		c.rebuild()
		for pi := range c.Pathways {
			c.assignKept(&c.Pathways[pi])
		}
	}
	for _, list := range n.partners {
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	}
	return n, nil
}

func (n *Network) addRule(ri int, rule Rule, params Params) error {
	if len(rule.Reactants) < 1 || len(rule.Reactants) > 2 {
		return fmt.Errorf("need one or two reactants, got %d", len(rule.Reactants))
	}
	reactants := make([]components.SpeciesID, len(rule.Reactants))
	for i, name := range rule.Reactants {
		id, ok := n.byName[name]
		if !ok {
			return fmt.Errorf("reactant %q: %w", name, ErrUnknownSpecies)
		}
		reactants[i] = id
	}
	products := make([]Product, len(rule.Products))
	for i, ps := range rule.Products {
		id, ok := n.byName[ps.Species]
		if !ok {
			return fmt.Errorf("product %q: %w", ps.Species, ErrUnknownSpecies)
		}
		if n.species[id].Kind == components.KindSurfaceClass {
			return fmt.Errorf("product %q is a surface class", ps.Species)
		}
		products[i] = Product{Species: id, Orientation: ps.Orientation}
	}

	prob := rule.Probability
	if prob < 0 && rule.Type == Standard {
		var err error
		prob, err = n.rateToProbability(reactants, rule.Rate, params)
		if err != nil {
			return err
		}
	}
	if rule.Type != Standard {
		if len(reactants) != 2 || n.species[reactants[1]].Kind != components.KindSurfaceClass {
			return fmt.Errorf("%s rules need a molecule and a surface class", rule.Type)
		}
		prob = 1
	}

	var c *ReactionClass
	if len(reactants) == 1 {
		c = n.unimol[reactants[0]]
	} else {
		c = n.bimol[keyOf(reactants[0], reactants[1])]
	}
	if c == nil {
		c = &ReactionClass{
			Index:     len(n.classes),
			Name:      rule.Name,
			Reactants: reactants,
			Type:      rule.Type,
			Side:      rule.Side,
		}
		n.classes = append(n.classes, c)
		if len(reactants) == 1 {
			n.unimol[reactants[0]] = c
		} else {
			n.bimol[keyOf(reactants[0], reactants[1])] = c
			n.notePartners(reactants[0], reactants[1])
		}
	} else if c.Type != rule.Type {
		return fmt.Errorf("conflicting class types %s and %s for the same reactants", c.Type, rule.Type)
	}

	name := rule.Name
	if name == "" {
		name = fmt.Sprintf("rxn%d", ri)
	}
	n.rules = append(n.rules, name)
	c.Pathways = append(c.Pathways, Pathway{Name: name, Products: products, Prob: prob})
	return nil
}

func (n *Network) notePartners(a, b components.SpeciesID) {
	if n.species[a].Kind != components.KindVolume || n.species[b].Kind != components.KindVolume {
		return
	}
	n.partners[a] = appendUnique(n.partners[a], b)
	if a != b {
		n.partners[b] = appendUnique(n.partners[b], a)
	}
}

func appendUnique(list []components.SpeciesID, s components.SpeciesID) []components.SpeciesID {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// Species returns the species record for id.
func (n *Network) Species(id components.SpeciesID) *components.Species { return &n.species[id] }

// AllSpecies returns the species table.
func (n *Network) AllSpecies() []components.Species { return n.species }

// SpeciesByName resolves a species name.
func (n *Network) SpeciesByName(name string) (components.SpeciesID, bool) {
	id, ok := n.byName[name]
	return id, ok
}

// Unimol returns the unimolecular class for s, or nil.
func (n *Network) Unimol(s components.SpeciesID) *ReactionClass { return n.unimol[s] }

// Bimol returns the class for reactants a and b in either order, or nil.
func (n *Network) Bimol(a, b components.SpeciesID) *ReactionClass { return n.bimol[keyOf(a, b)] }

// Partners returns the volume species that volume species s reacts with.
func (n *Network) Partners(s components.SpeciesID) []components.SpeciesID { return n.partners[s] }

// Classes returns every reaction class in creation order.
func (n *Network) Classes() []*ReactionClass { return n.classes }

// RuleNames returns the pathway names in declaration order.
func (n *Network) RuleNames() []string { return n.rules }

// WallClass returns the class for molecule species s meeting surface class sc.
func (n *Network) WallClass(s, sc components.SpeciesID) *ReactionClass {
	if sc == components.NoSpecies {
		return nil
	}
	return n.bimol[keyOf(s, sc)]
}
