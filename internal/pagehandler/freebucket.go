package pagehandler

import "sort"

// FreeBucketMap is the in-memory, non-persisted best-fit index from a
// data page's remaining free bytes to the page-ids that currently report
// that much room. Its absence for any given page is never an error: it
// only means the next allocation may create a new page instead of
// reusing one.
type FreeBucketMap struct {
	buckets map[int][]PageID
}

// NewFreeBucketMap returns an empty free-bucket map.
func NewFreeBucketMap() *FreeBucketMap {
	return &FreeBucketMap{buckets: make(map[int][]PageID)}
}

// Insert records that pid currently reports remainSize free bytes.
func (m *FreeBucketMap) Insert(remainSize int, pid PageID) {
	m.buckets[remainSize] = append(m.buckets[remainSize], pid)
}

// BestFit finds the lowest bucket key >= required and pops the
// last-inserted page-id from it, removing the bucket entirely if that
// empties it.
func (m *FreeBucketMap) BestFit(required int) (PageID, bool) {
	bestKey := -1
	for key, ids := range m.buckets {
		if key < required || len(ids) == 0 {
			continue
		}
		if bestKey == -1 || key < bestKey {
			bestKey = key
		}
	}
	if bestKey == -1 {
		return 0, false
	}
	ids := m.buckets[bestKey]
	pid := ids[len(ids)-1]
	ids = ids[:len(ids)-1]
	if len(ids) == 0 {
		delete(m.buckets, bestKey)
	} else {
		m.buckets[bestKey] = ids
	}
	return pid, true
}

// Len returns the number of page-ids tracked across every bucket.
func (m *FreeBucketMap) Len() int {
	n := 0
	for _, ids := range m.buckets {
		n += len(ids)
	}
	return n
}

// Keys returns the currently populated bucket sizes in ascending order;
// used only for introspection/testing.
func (m *FreeBucketMap) Keys() []int {
	keys := make([]int, 0, len(m.buckets))
	for k := range m.buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
