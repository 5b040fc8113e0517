package partition

import "github.com/pthm-cable/cellsim/components"

// idSet is an unordered id set with O(1) add and remove.
type idSet struct {
	ids []components.MoleculeID
	pos map[components.MoleculeID]int
}

func newIDSet() *idSet {
	return &idSet{pos: make(map[components.MoleculeID]int)}
}

func (s *idSet) add(id components.MoleculeID) {
	if _, ok := s.pos[id]; ok {
		return
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
}

func (s *idSet) remove(id components.MoleculeID) {
	i, ok := s.pos[id]
	if !ok {
		return
	}
	last := len(s.ids) - 1
	s.ids[i] = s.ids[last]
	s.pos[s.ids[i]] = i
	s.ids = s.ids[:last]
	delete(s.pos, id)
}
