package util

// StateTransitions maps each state to the set of states it may move to. A
// state mapped to an empty set is terminal
type StateTransitions[T comparable] map[T]Set[T]

// CanTransition reports whether from may move to to
func (st StateTransitions[T]) CanTransition(from, to T) bool {
	next, ok := st[from]
	if !ok {
		return false
	}
	return next.Contains(to)
}

// IsTerminal reports whether a known state has no outgoing transitions
func (st StateTransitions[T]) IsTerminal(state T) bool {
	next, ok := st[state]
	return ok && next.IsEmpty()
}
