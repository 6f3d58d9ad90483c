package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, s.Put(ctx, "k", payload{Name: "a", Count: 3}, time.Minute))

	var got payload
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload{Name: "a", Count: 3}, got)
}

func TestStoreMiss(t *testing.T) {
	s := NewStore()

	var got string
	ok, err := s.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreExpiry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	current := time.Now()
	s.now = func() time.Time { return current }

	require.NoError(t, s.Put(ctx, "k", "value", time.Hour))

	var got string
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)

	current = current.Add(2 * time.Hour)
	ok, err = s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok, "expired entries read as absent")

	// Expired entry was removed, not just skipped.
	s.mu.RLock()
	_, present := s.entries["k"]
	s.mu.RUnlock()
	assert.False(t, present)
}

func TestStoreOverwrite(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", 1, time.Minute))
	require.NoError(t, s.Put(ctx, "k", 2, time.Minute))

	var got int
	ok, err := s.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}
