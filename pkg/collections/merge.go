package collections

import (
	"context"
	"fmt"
)

// Less reports whether a sorts strictly before b.
type Less[T any] func(a, b T) bool

// MergeStreams performs an asynchronous k-way merge of already-sorted
// channels into a single sorted output channel (spec §4.10's
// SortedMerge), used to fan in per-place event streams into one global
// order.
//
// Each input stream must itself be non-decreasing under less; a
// violation is reported on the error channel and stops the merge. When
// two items from different streams compare equal, the item from the
// lowest-indexed stream is emitted first and the duplicate from any
// other stream at that same key is dropped — earliest-stream-wins, so
// a caller can list a locally-authoritative stream first to prefer its
// copy of a record over a replica's.
func MergeStreams[T any](ctx context.Context, streams []<-chan T, less Less[T]) (<-chan T, <-chan error) {
	out := make(chan T)
	errc := make(chan error, 1)

	go func() {
		defer close(out)

		heads := make([]*T, len(streams))
		haveLast := make([]bool, len(streams))
		last := make([]T, len(streams))
		failed := false

		pull := func(i int) bool {
			v, ok := <-streams[i]
			if !ok {
				heads[i] = nil
				return false
			}
			if haveLast[i] && less(v, last[i]) {
				select {
				case errc <- fmt.Errorf("collections: merge input stream %d is not sorted", i):
				default:
				}
				failed = true
				return false
			}
			last[i] = v
			haveLast[i] = true
			cp := v
			heads[i] = &cp
			return true
		}

		for i := range streams {
			pull(i)
		}

		for {
			if failed {
				return
			}
			lowest := -1
			for i, h := range heads {
				if h == nil {
					continue
				}
				if lowest == -1 || less(*h, *heads[lowest]) {
					lowest = i
				}
			}
			if lowest == -1 {
				return
			}

			val := *heads[lowest]

			// drop duplicates of the same key from other streams,
			// earliest-stream-wins.
			for i, h := range heads {
				if i == lowest || h == nil {
					continue
				}
				if !less(val, *h) && !less(*h, val) {
					pull(i)
				}
			}

			select {
			case out <- val:
			case <-ctx.Done():
				select {
				case errc <- ctx.Err():
				default:
				}
				return
			}

			pull(lowest)
		}
	}()

	return out, errc
}
