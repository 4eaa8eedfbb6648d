package sensei

import "github.com/hothotzd123/sensei/engine"

// EngineSet is an insertion-ordered set of distinct engines keyed by
// pointer identity. Engines that are not pointers are rejected.
type EngineSet struct {
	order []engine.Engine
	index map[engine.Engine]struct{}
}

// NewEngineSet creates an empty set.
func NewEngineSet() *EngineSet {
	return &EngineSet{index: make(map[engine.Engine]struct{})}
}

// Add inserts e and reports whether it was not yet present. It fails with
// engine.ErrInvalidHandle when e is not a non-nil pointer.
func (s *EngineSet) Add(e engine.Engine) (bool, error) {
	if err := engine.CheckHandle(e); err != nil {
		return false, err
	}
	if _, ok := s.index[e]; ok {
		return false, nil
	}
	s.index[e] = struct{}{}
	s.order = append(s.order, e)
	return true, nil
}

// Contains reports whether e is in the set.
func (s *EngineSet) Contains(e engine.Engine) bool {
	if s == nil || engine.CheckHandle(e) != nil {
		return false
	}
	_, ok := s.index[e]
	return ok
}

// Len returns the number of distinct engines.
func (s *EngineSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Engines returns the engines in insertion order.
func (s *EngineSet) Engines() []engine.Engine {
	if s == nil {
		return nil
	}
	out := make([]engine.Engine, len(s.order))
	copy(out, s.order)
	return out
}
