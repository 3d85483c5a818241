package btree

import "txbtree/internal/tuple"

// insert and remove are the generic slice helpers this package's split
// and rebalancing logic builds on, grounded on
// DaemonDB/storage_engine/access/indexfile_manager/bplustree/binary_search.go's
// insert[T]/remove[T] pair.
func insert[T any](slice []T, i int, elem T) []T {
	slice = append(slice, elem)
	copy(slice[i+1:], slice[i:])
	slice[i] = elem
	return slice
}

func remove[T any](slice []T, i int) []T {
	return append(slice[:i], slice[i+1:]...)
}

// lowerBound returns the first index in a sorted key slice whose value is
// >= target, the position a new key or tuple with that key belongs at.
func lowerBound(keys []tuple.Field, target tuple.Field, less func(a, b tuple.Field) bool) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := lo + (hi-lo)/2
		if less(keys[mid], target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
