package collections

import "time"

// Identifiable is implemented by values that can be deduplicated by a
// stable identity and compared by recency (spec §4.10's ObjectSet).
type Identifiable interface {
	ObjectID() int64
	LoadedAt() time.Time
}

// ObjectSet deduplicates values of type T by ObjectID, keeping at most
// one entry per id.
type ObjectSet[T Identifiable] struct {
	items map[int64]T
}

// NewObjectSet creates an empty ObjectSet.
func NewObjectSet[T Identifiable]() *ObjectSet[T] {
	return &ObjectSet[T]{items: make(map[int64]T)}
}

// Add inserts obj, unconditionally replacing any existing entry with
// the same ObjectID.
func (s *ObjectSet[T]) Add(obj T) {
	s.items[obj.ObjectID()] = obj
}

// AddNewer inserts obj only if no entry exists for its id, or the
// existing entry's LoadedAt is strictly before obj's. Returns true if obj was
// stored.
func (s *ObjectSet[T]) AddNewer(obj T) bool {
	existing, ok := s.items[obj.ObjectID()]
	if ok && !existing.LoadedAt().Before(obj.LoadedAt()) {
		return false
	}
	s.items[obj.ObjectID()] = obj
	return true
}

// Get retrieves the object with the given id.
func (s *ObjectSet[T]) Get(id int64) (T, bool) {
	v, ok := s.items[id]
	return v, ok
}

// Remove deletes the object with the given id, if present.
func (s *ObjectSet[T]) Remove(id int64) {
	delete(s.items, id)
}

// List returns every stored object, in unspecified order.
func (s *ObjectSet[T]) List() []T {
	out := make([]T, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v)
	}
	return out
}

// Len returns the number of distinct objects held.
func (s *ObjectSet[T]) Len() int {
	return len(s.items)
}
