package collections

import "sort"

// Counter tallies occurrences of comparable items, auto-deleting a key
// the moment its count reaches zero so Len() reflects only items
// currently present (spec §4.10).
type Counter[T comparable] struct {
	counts map[T]int
}

// NewCounter creates an empty Counter.
func NewCounter[T comparable]() *Counter[T] {
	return &Counter[T]{counts: make(map[T]int)}
}

// Inc increments the count for item by delta (delta may be negative).
func (c *Counter[T]) Inc(item T, delta int) {
	c.counts[item] += delta
	if c.counts[item] <= 0 {
		delete(c.counts, item)
	}
}

// Dec decrements the count for item by 1; equivalent to Inc(item, -1).
func (c *Counter[T]) Dec(item T) {
	c.Inc(item, -1)
}

// Count returns the current count for item (0 if absent).
func (c *Counter[T]) Count(item T) int {
	return c.counts[item]
}

// Total returns the sum of all counts.
func (c *Counter[T]) Total() int {
	sum := 0
	for _, n := range c.counts {
		sum += n
	}
	return sum
}

// Len returns the number of distinct items with a positive count.
func (c *Counter[T]) Len() int {
	return len(c.counts)
}

type countPair[T comparable] struct {
	item  T
	count int
}

func (c *Counter[T]) sorted(desc bool) []countPair[T] {
	pairs := make([]countPair[T], 0, len(c.counts))
	for item, n := range c.counts {
		pairs = append(pairs, countPair[T]{item, n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if desc {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].count < pairs[j].count
	})
	return pairs
}

// MostCommon returns up to n items with the highest counts, descending.
// n<0 returns all items.
func (c *Counter[T]) MostCommon(n int) []T {
	pairs := c.sorted(true)
	return takeItems(pairs, n)
}

// LeastCommon returns up to n items with the lowest counts, ascending.
// n<0 returns all items.
func (c *Counter[T]) LeastCommon(n int) []T {
	pairs := c.sorted(false)
	return takeItems(pairs, n)
}

func takeItems[T comparable](pairs []countPair[T], n int) []T {
	if n < 0 || n > len(pairs) {
		n = len(pairs)
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].item
	}
	return out
}
