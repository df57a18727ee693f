package atlas

import "fmt"

// Shard is the arithmetic progression {x : x mod base == offset},
// spec §3/§4.5, used to describe which ids belong to which block.
type Shard struct {
	Offset int64
	Base   int64
}

// NewShard validates 0 <= offset < base, base > 0.
func NewShard(offset, base int64) (Shard, error) {
	if base <= 0 {
		return Shard{}, fmt.Errorf("shard base must be positive, got %d", base)
	}
	if offset < 0 || offset >= base {
		return Shard{}, fmt.Errorf("shard offset %d out of range [0,%d)", offset, base)
	}
	return Shard{Offset: offset, Base: base}, nil
}

// Contains reports whether x belongs to the shard.
func (s Shard) Contains(x int64) bool {
	m := x % s.Base
	if m < 0 {
		m += s.Base
	}
	return m == s.Offset
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

func lcm(a, b int64) int64 {
	g := gcd(a, b)
	if g == 0 {
		return 0
	}
	return a / g * b
}

// Intersection computes the common base b = lcm(b1,b2), enumerates each
// shard's offsets modulo b, and returns the shared shard iff exactly
// one offset is common. Two shards whose progressions overlap at more
// than one offset mod b is a fatal invariant violation (spec §4.5):
// that can only happen if a caller passed a non-reduced shard (e.g.
// Base not the minimal period), so it panics rather than silently
// picking one.
func Intersection(s1, s2 Shard) (Shard, bool) {
	base := lcm(s1.Base, s2.Base)

	offsets1 := offsetsMod(s1, base)
	offsets2 := offsetsMod(s2, base)

	var matches []int64
	for o := range offsets1 {
		if offsets2[o] {
			matches = append(matches, o)
		}
	}

	switch len(matches) {
	case 0:
		return Shard{}, false
	case 1:
		return Shard{Offset: matches[0], Base: base}, true
	default:
		panic(fmt.Sprintf("shard intersection invariant violated: %d overlapping offsets for %v ∩ %v", len(matches), s1, s2))
	}
}

func offsetsMod(s Shard, base int64) map[int64]bool {
	out := make(map[int64]bool)
	for x := s.Offset; x < base; x += s.Base {
		out[x] = true
	}
	return out
}
