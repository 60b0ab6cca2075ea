package util

// Set is an unordered collection of comparable values
type Set[K comparable] map[K]struct{}

// SetOf creates a set holding the given elements
func SetOf[K comparable](elements ...K) Set[K] {
	s := make(Set[K], len(elements))
	s.Add(elements...)
	return s
}

// Add inserts elements into the set
func (s Set[K]) Add(elements ...K) {
	for _, e := range elements {
		s[e] = struct{}{}
	}
}

// Remove deletes an element from the set
func (s Set[K]) Remove(key K) {
	delete(s, key)
}

// Contains reports whether the element is in the set
func (s Set[K]) Contains(key K) bool {
	_, ok := s[key]
	return ok
}

// Len returns the number of elements
func (s Set[K]) Len() int {
	return len(s)
}

// IsEmpty returns true if the set holds nothing
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}

// Retain removes every element not present in keep and returns the number of
// elements removed
func (s Set[K]) Retain(keep Set[K]) int {
	removed := 0
	for k := range s {
		if !keep.Contains(k) {
			delete(s, k)
			removed++
		}
	}
	return removed
}
