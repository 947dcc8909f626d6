package pagehandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeBucketMap_BestFit(t *testing.T) {
	t.Parallel()

	m := NewFreeBucketMap()
	m.Insert(40, 1)
	m.Insert(100, 2)
	m.Insert(500, 3)

	// Scenario 5: distribute(80) must pick the page of size 100.
	pid, ok := m.BestFit(80)
	require.True(t, ok)
	assert.Equal(t, PageID(2), pid)

	// Once popped, that bucket is gone.
	assert.NotContains(t, m.Keys(), 100)
}

func TestFreeBucketMap_NoFitReturnsFalse(t *testing.T) {
	t.Parallel()

	m := NewFreeBucketMap()
	m.Insert(40, 1)

	_, ok := m.BestFit(80)
	assert.False(t, ok)
}

func TestFreeBucketMap_LIFOWithinBucket(t *testing.T) {
	t.Parallel()

	m := NewFreeBucketMap()
	m.Insert(100, 1)
	m.Insert(100, 2)
	m.Insert(100, 3)

	pid, ok := m.BestFit(100)
	require.True(t, ok)
	assert.Equal(t, PageID(3), pid)

	pid, ok = m.BestFit(100)
	require.True(t, ok)
	assert.Equal(t, PageID(2), pid)
}

func TestFreeBucketMap_Len(t *testing.T) {
	t.Parallel()

	m := NewFreeBucketMap()
	assert.Equal(t, 0, m.Len())
	m.Insert(10, 1)
	m.Insert(10, 2)
	m.Insert(20, 3)
	assert.Equal(t, 3, m.Len())
}
