// Package rng provides the single deterministic random stream consumed by the
// diffusion-reaction engine.
package rng

import (
	"math"
	"math/rand/v2"
)

// Stream is the random source contract the engine draws from. Every call
// advances the shared stream, so callers must draw in a fixed order.
type Stream interface {
	// Dbl returns a uniform value in [0, 1).
	Dbl() float64
	// Uint returns a uniform integer in [0, n). n must be > 0.
	Uint(n uint32) uint32
	// Gauss returns a standard normal value.
	Gauss() float64
}

// RNG is a thin wrapper around math/rand/v2 for deterministic seeding.
type RNG struct {
	r     *rand.Rand
	draws uint64
}

// New creates a deterministic RNG using the provided seed.
func New(seed int64) *RNG {
	return &RNG{r: rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))}
}

// Dbl returns a uniform value in [0, 1).
func (g *RNG) Dbl() float64 {
	g.draws++
	return g.r.Float64()
}

// Uint returns a uniform integer in [0, n).
func (g *RNG) Uint(n uint32) uint32 {
	g.draws++
	if n == 0 {
		return 0
	}
	return g.r.Uint32N(n)
}

// Gauss returns a standard normal value (polar Box-Muller). Each attempt
// consumes two Dbl draws.
func (g *RNG) Gauss() float64 {
	for {
		u := 2*g.Dbl() - 1
		v := 2*g.Dbl() - 1
		s := u*u + v*v
		if s > 0 && s < 1 {
			return u * math.Sqrt(-2*math.Log(s)/s)
		}
	}
}

// Draws reports how many primitive draws were consumed so far.
func (g *RNG) Draws() uint64 { return g.draws }

// Script replays fixed values. Dbl and Gauss values are consumed from their
// own queues; Uint values are taken modulo n. An exhausted queue yields zero.
type Script struct {
	Dbls   []float64
	Uints  []uint32
	Gausss []float64
}

// Dbl returns the next scripted uniform value.
func (s *Script) Dbl() float64 {
	if len(s.Dbls) == 0 {
		return 0
	}
	v := s.Dbls[0]
	s.Dbls = s.Dbls[1:]
	return v
}

// Uint returns the next scripted integer reduced into [0, n).
func (s *Script) Uint(n uint32) uint32 {
	if len(s.Uints) == 0 || n == 0 {
		return 0
	}
	v := s.Uints[0]
	s.Uints = s.Uints[1:]
	return v % n
}

// Gauss returns the next scripted normal value.
func (s *Script) Gauss() float64 {
	if len(s.Gausss) == 0 {
		return 0
	}
	v := s.Gausss[0]
	s.Gausss = s.Gausss[1:]
	return v
}
