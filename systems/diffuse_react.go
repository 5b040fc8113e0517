package systems

import (
	"math"

	"github.com/pthm-cable/cellsim/components"
	"github.com/pthm-cable/cellsim/geometry"
	"github.com/pthm-cable/cellsim/partition"
	"github.com/pthm-cable/cellsim/reactions"
)

// ActionType selects what a queued Action does.
type ActionType uint8

const (
	ActionDiffuse ActionType = iota
	ActionUnimol
)

// Action is a micro-event inside the current step. Actions never outlive
// the Step call that created them.
type Action struct {
	Type ActionType
	ID   components.MoleculeID
	// Time is the absolute time at which the action starts.
	Time float64
	// WhereCreated is the tile a new molecule came from; a volume molecule
	// does not rebind to it during its first diffusion.
	WhereCreated partition.TileRef
}

var noTile = partition.TileRef{Wall: geometry.NoWall, Tile: -1}

func (e *Engine) enqueue(a Action) { e.queue = append(e.queue, a) }

// timeEps absorbs rounding when comparing absolute times.
const timeEps = 1e-12

// Step advances every molecule from stepStart to stepStart+TimeStep.
// Molecules present at entry are processed in creation order, delayed
// releases follow in the same order, and then the action queue is drained
// until empty, including actions appended while draining.
func (e *Engine) Step(stepStart float64) error {
	e.stepEnd = stepStart + e.Params.TimeStep
	e.queue = e.queue[:0]
	e.delayed = e.delayed[:0]

	e.snapshot = e.snapshot[:0]
	for _, m := range e.Part.Molecules() {
		if !m.IsDefunct() {
			e.snapshot = append(e.snapshot, m.ID)
		}
	}

	for _, id := range e.snapshot {
		m := e.Part.Get(id)
		if m == nil || m.IsDefunct() {
			continue
		}
		if m.ReleaseDelay > 0 {
			e.delayed = append(e.delayed, Action{Type: ActionDiffuse, ID: id, Time: stepStart + m.ReleaseDelay, WhereCreated: noTile})
			m.ReleaseDelay = 0
			continue
		}
		if err := e.diffuseOrUnimol(m, stepStart, noTile); err != nil {
			return err
		}
	}

	for i := 0; i < len(e.delayed); i++ {
		if err := e.process(e.delayed[i]); err != nil {
			return err
		}
	}
	for i := 0; i < len(e.queue); i++ {
		if err := e.process(e.queue[i]); err != nil {
			return err
		}
	}
	return nil
}

// stepFraction maps absolute time t onto [0, 1] within the current step.
func (e *Engine) stepFraction(t float64) float64 {
	f := 1 - (e.stepEnd-t)/e.Params.TimeStep
	return math.Min(math.Max(f, 0), 1)
}

// QueueLen reports how many actions the last Step drained.
func (e *Engine) QueueLen() int { return len(e.queue) }

// Visited reports how many live molecules the last Step started with.
func (e *Engine) Visited() int { return len(e.snapshot) }

func (e *Engine) process(a Action) error {
	m := e.Part.Get(a.ID)
	if m == nil || m.IsDefunct() {
		return nil
	}
	switch a.Type {
	case ActionUnimol:
		if m.UnimolRxTime != a.Time {
			// Rescheduled since this action was queued.
			return nil
		}
		destroyed, err := e.unimolReact(m, a.Time)
		if err != nil || destroyed {
			return err
		}
		e.scheduleUnimol(m, a.Time)
		if m.UnimolRxTime < e.stepEnd {
			e.enqueue(Action{Type: ActionUnimol, ID: m.ID, Time: m.UnimolRxTime, WhereCreated: noTile})
		}
		m.DiffusionTime = e.stepEnd
		return nil
	default:
		m.DiffusionTime = a.Time
		return e.diffuseOrUnimol(m, a.Time, a.WhereCreated)
	}
}

// scheduleUnimol samples m's next unimolecular time if it is pending.
func (e *Engine) scheduleUnimol(m *components.Molecule, now float64) {
	if !m.Has(components.FlagScheduleUnimol) {
		return
	}
	m.Clear(components.FlagScheduleUnimol)
	m.UnimolRxTime = now + reactions.TimeOfUnimol(e.Net.Unimol(m.Species), e.RNG)
}

// diffuseOrUnimol advances m from t0 to the end of the step. A pending
// unimolecular reaction inside the step splits the diffusion: m moves up to
// the reaction time, reacts and, if it survives, continues immediately.
func (e *Engine) diffuseOrUnimol(m *components.Molecule, t0 float64, where partition.TileRef) error {
	sp := e.species(m)
	e.scheduleUnimol(m, t0)

	if !sp.CanDiffuse() {
		if m.UnimolRxTime < e.stepEnd {
			e.enqueue(Action{Type: ActionUnimol, ID: m.ID, Time: math.Max(m.UnimolRxTime, t0), WhereCreated: noTile})
			m.UnimolRxTime = math.Max(m.UnimolRxTime, t0)
		}
		if m.IsSurface() && e.hasSurfacePartners(m) {
			if _, err := e.reactSurface(m, t0, 1); err != nil {
				return err
			}
		}
		if !m.IsDefunct() {
			m.DiffusionTime = e.stepEnd
		}
		return nil
	}

	t := t0
	for e.stepEnd-t > timeEps {
		end := e.stepEnd
		pending := m.UnimolRxTime < e.stepEnd
		if pending {
			end = math.Max(m.UnimolRxTime, t)
		}
		destroyed, err := e.diffuseSpan(m, t, end, where)
		if err != nil || destroyed {
			return err
		}
		where = noTile
		t = end
		m.DiffusionTime = t
		if !pending {
			break
		}
		destroyed, err = e.unimolReact(m, t)
		if err != nil || destroyed {
			return err
		}
		e.scheduleUnimol(m, t)
	}
	m.DiffusionTime = e.stepEnd
	return nil
}

// diffuseSpan moves m from t0 to t1 in pieces no longer than the species
// time step.
func (e *Engine) diffuseSpan(m *components.Molecule, t0, t1 float64, where partition.TileRef) (bool, error) {
	ts := e.timeStepOf(e.species(m))
	for t := t0; t1-t > timeEps; {
		dt := math.Min(ts, t1-t)
		var destroyed bool
		var err error
		if m.IsSurface() {
			destroyed, err = e.diffuseSurface(m, t, dt)
		} else {
			destroyed, err = e.diffuseVolume(m, t, dt, where)
		}
		if err != nil || destroyed {
			return destroyed, err
		}
		where = noTile
		t += dt
	}
	return false, nil
}

func (e *Engine) hasSurfacePartners(m *components.Molecule) bool {
	for _, c := range e.Net.Classes() {
		if len(c.Reactants) != 2 || !c.IsReactive() {
			continue
		}
		slot := c.Slot(m.Species, -1)
		if slot < 0 {
			continue
		}
		if e.Net.Species(c.Reactants[1-slot]).IsSurface() {
			return true
		}
	}
	return false
}

// unimolReact fires m's unimolecular reaction at time t.
func (e *Engine) unimolReact(m *components.Molecule, t float64) (bool, error) {
	c := e.Net.Unimol(m.Species)
	if c == nil || c.MaxFixedP <= 0 {
		m.UnimolRxTime = components.TimeForever
		return false, nil
	}
	col := UnimolCollision{Molecule: m.ID, T: e.stepFraction(t), Class: c}
	e.Rec.RecordCollision(col.Kind())
	pw := reactions.WhichUnimol(col.Class, e.RNG)
	out, err := e.executeReaction(col.Class, pw, []*components.Molecule{m}, e.siteOf(col, t))
	if err != nil {
		return false, err
	}
	if out == OutcomeBlocked {
		// Try again at the next opportunity.
		m.Set(components.FlagScheduleUnimol)
	}
	return out == OutcomeDestroyed, nil
}
