// Package bucketmap provides an ordered map from int64 start keys to values,
// with lookup by "greatest start less than or equal to key". Built once,
// then read-only; safe for concurrent readers after Freeze.
package bucketmap

import (
	"errors"
	"sort"
)

// ErrFrozen is returned by Put after Freeze.
var ErrFrozen = errors.New("bucket map is frozen")

// ErrDuplicateStart is returned by Freeze when two buckets share a start key.
var ErrDuplicateStart = errors.New("duplicate bucket start key")

type bucket[V any] struct {
	start int64
	value V
}

// Map is an ordered (start → value) index.
type Map[V any] struct {
	buckets []bucket[V]
	frozen  bool
}

// New creates an empty map.
func New[V any]() *Map[V] {
	return &Map[V]{}
}

// Put adds a bucket starting at start. Order of insertion is irrelevant;
// Freeze sorts.
func (m *Map[V]) Put(start int64, value V) error {
	if m.frozen {
		return ErrFrozen
	}

	m.buckets = append(m.buckets, bucket[V]{start: start, value: value})

	return nil
}

// Freeze sorts the buckets and makes the map immutable. Must be called
// before Get.
func (m *Map[V]) Freeze() error {
	sort.Slice(m.buckets, func(i, j int) bool {
		return m.buckets[i].start < m.buckets[j].start
	})

	for i := 1; i < len(m.buckets); i++ {
		if m.buckets[i].start == m.buckets[i-1].start {
			return ErrDuplicateStart
		}
	}

	m.frozen = true

	return nil
}

// Get returns the value of the bucket with the greatest start <= key.
// The second result is false when key precedes every bucket or the map is
// empty.
func (m *Map[V]) Get(key int64) (V, bool) {
	var zero V

	// First bucket with start > key; the bucket before it is the answer.
	i := sort.Search(len(m.buckets), func(i int) bool {
		return m.buckets[i].start > key
	})
	if i == 0 {
		return zero, false
	}

	return m.buckets[i-1].value, true
}

// First returns the value of the lowest bucket.
func (m *Map[V]) First() (V, bool) {
	var zero V

	if len(m.buckets) == 0 {
		return zero, false
	}

	return m.buckets[0].value, true
}

// Len returns the number of buckets.
func (m *Map[V]) Len() int {
	return len(m.buckets)
}
