package reactions

import (
	"math"
	"sort"

	"github.com/pthm-cable/cellsim/rng"
)

// NoReaction is returned by the tests when no pathway fires.
const NoReaction = -1

// pick returns the first pathway whose cumulative bound exceeds p.
func pick(cum []float64, p float64) int {
	i := sort.Search(len(cum), func(i int) bool { return p < cum[i] })
	if i == len(cum) {
		return len(cum) - 1
	}
	return i
}

// TestBimolecular draws once and returns the firing pathway or NoReaction.
// scaling divides the class probabilities; when the scaled probability
// reaches one a pathway always fires and missed reports whether probability
// was lost to saturation.
func TestBimolecular(c *ReactionClass, scaling float64, r rng.Stream) (pathway int, missed bool) {
	if c.MaxFixedP <= 0 {
		return NoReaction, false
	}
	u := r.Dbl()
	var p float64
	if c.MaxFixedP < scaling {
		p = u * scaling
		if p >= c.MaxFixedP {
			return NoReaction, false
		}
	} else {
		p = u * c.MaxFixedP
		missed = c.MaxFixedP > scaling
	}
	return pick(c.CumProbs, p), missed
}

// TestManyBimolecular tests several candidate classes with a single draw.
// It returns the index of the winning class and its pathway, or NoReaction.
func TestManyBimolecular(classes []*ReactionClass, scalings []float64, r rng.Stream) (which, pathway int, missed bool) {
	switch len(classes) {
	case 0:
		return NoReaction, NoReaction, false
	case 1:
		pw, m := TestBimolecular(classes[0], scalings[0], r)
		if pw == NoReaction {
			return NoReaction, NoReaction, m
		}
		return 0, pw, m
	}

	rxp := make([]float64, len(classes))
	acc := 0.0
	for i, c := range classes {
		acc += c.MaxFixedP / scalings[i]
		rxp[i] = acc
	}
	total := rxp[len(rxp)-1]
	if total <= 0 {
		return NoReaction, NoReaction, false
	}

	u := r.Dbl()
	p := u
	if total > 1 {
		p = u * total
		missed = true
	}
	if p >= total {
		return NoReaction, NoReaction, false
	}
	i := pick(rxp, p)
	if i > 0 {
		p -= rxp[i-1]
	}
	p *= scalings[i]
	return i, pick(classes[i].CumProbs, p), missed
}

// TimeOfUnimol samples the waiting time until the next unimolecular event.
func TimeOfUnimol(c *ReactionClass, r rng.Stream) float64 {
	if c == nil || c.MaxFixedP <= 0 {
		return math.Inf(1)
	}
	return -math.Log(1-r.Dbl()) / c.MaxFixedP
}

// WhichUnimol picks a unimolecular pathway proportionally to its rate. A
// single-pathway class consumes no random draw.
func WhichUnimol(c *ReactionClass, r rng.Stream) int {
	if len(c.Pathways) == 1 {
		return 0
	}
	return pick(c.CumProbs, r.Dbl()*c.MaxFixedP)
}
