package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRUCache_BasicGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(3)

	c.Set(ctx, "a", &Result{SnapshotID: "A"})
	c.Set(ctx, "b", &Result{SnapshotID: "B"})

	result, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "A", result.SnapshotID)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_Eviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	c.Set(ctx, "a", &Result{SnapshotID: "A"})
	c.Set(ctx, "b", &Result{SnapshotID: "B"})
	c.Set(ctx, "c", &Result{SnapshotID: "C"}) // evicts "a"

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "a should have been evicted")

	result, ok := c.Get(ctx, "b")
	assert.True(t, ok)
	assert.Equal(t, "B", result.SnapshotID)

	result, ok = c.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, "C", result.SnapshotID)
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	c.Set(ctx, "a", &Result{SnapshotID: "A"})
	c.Set(ctx, "b", &Result{SnapshotID: "B"})

	c.Get(ctx, "a")

	// "b" is now least recently used.
	c.Set(ctx, "c", &Result{SnapshotID: "C"})

	_, ok := c.Get(ctx, "a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(2)

	c.Set(ctx, "a", &Result{SnapshotID: "A1"})
	c.Set(ctx, "a", &Result{SnapshotID: "A2"})

	result, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "A2", result.SnapshotID)
	assert.Equal(t, 1, c.Len())
}
