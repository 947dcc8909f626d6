package lrucache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mockValue struct {
	data string
}

// TestLRUCache_HitAndMiss tests basic cache hit and miss behavior
func TestLRUCache_HitAndMiss(t *testing.T) {
	t.Parallel()

	cache := New[string](10)

	// Cache miss
	value, ok := cache.Get("bogus")
	assert.False(t, ok)
	assert.Nil(t, value)

	// Add to cache
	mockValue := mockValue{"foo"}
	cache.Put("foo key", mockValue, true)

	// Cache hit
	value, ok = cache.Get("foo key")
	assert.True(t, ok)
	assert.Equal(t, mockValue, value)

	// Different query is a cache miss
	value, ok = cache.Get("bar key")
	assert.False(t, ok)
	assert.Nil(t, value)
}

// TestLRUCache_LRUEviction tests that items are evicted when cache is full.
func TestLRUCache_LRUEviction(t *testing.T) {
	t.Parallel()

	cache := New[string](3) // Small cache for testing

	cache.Put("foo key", mockValue{"foo"}, true)
	cache.Put("bar key", mockValue{"bar"}, true)
	cache.Put("baz key", mockValue{"baz"}, true)

	_, ok := cache.Get("foo key")
	assert.True(t, ok)
	_, ok = cache.Get("bar key")
	assert.True(t, ok)
	_, ok = cache.Get("baz key")
	assert.True(t, ok)

	// Add a 4th item, should evict one of the items
	cache.Put("qux key", mockValue{"qux"}, true)

	assert.Equal(t, 3, cache.Len(), "cache should stay at max size of 3")

	_, ok = cache.Get("qux key")
	assert.True(t, ok)

	_, ok = cache.Get("foo key")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = cache.Get("bar key")
	assert.True(t, ok)
	_, ok = cache.Get("baz key")
	assert.True(t, ok)
}

// TestLRUCache_LRUOrdering tests that GetAndPromote updates LRU order.
func TestLRUCache_LRUOrdering(t *testing.T) {
	t.Parallel()

	cache := New[string](3)

	// Add 3 items (LRU order: foo -> bar -> baz)
	cache.Put("foo key", mockValue{"foo"}, true)
	cache.Put("bar key", mockValue{"bar"}, true)
	cache.Put("baz key", mockValue{"baz"}, true)

	// Promote foo key, making it most recently used (LRU order: bar -> baz -> foo)
	_, ok := cache.GetAndPromote("foo key")
	assert.True(t, ok)

	// Add qux key, should evict bar key (now the LRU)
	cache.Put("qux key", mockValue{"qux"}, true)

	_, ok = cache.Get("bar key")
	assert.False(t, ok, "bar key should have been evicted as LRU")

	_, ok = cache.Get("foo key")
	assert.True(t, ok, "foo key should still be cached")

	_, ok = cache.Get("baz key")
	assert.True(t, ok)
	_, ok = cache.Get("qux key")
	assert.True(t, ok)
}

// TestLRUCache_SecondChance verifies an accessed tail entry survives one
// eviction pass before actually being reclaimed.
func TestLRUCache_SecondChance(t *testing.T) {
	t.Parallel()

	cache := New[string](2)
	cache.Put("a", mockValue{"a"}, true)
	cache.Put("b", mockValue{"b"}, true)

	// touch "a" so it is marked accessed while still at the tail
	_, ok := cache.Get("a")
	assert.True(t, ok)

	cache.Put("c", mockValue{"c"}, true)

	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get("a")
	assert.True(t, ok, "accessed entry should get a second chance")
}

func TestLRUCache_DeleteAndClear(t *testing.T) {
	t.Parallel()

	cache := New[string](10)
	cache.Put("a", mockValue{"a"}, true)
	cache.Put("b", mockValue{"b"}, true)
	assert.Equal(t, 2, cache.Len())

	cache.Delete("a")
	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	_, ok = cache.Get("b")
	assert.False(t, ok)
}
