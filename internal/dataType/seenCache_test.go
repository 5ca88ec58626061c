package dataType

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewSeenCache(4)
	require.NoError(t, err)

	ids := make([]MessageID, 5)
	for i := range ids {
		ids[i] = NewMessageID()
	}
	for _, id := range ids[:4] {
		require.False(t, c.Add(id))
	}
	require.Equal(t, 4, c.Len())

	require.True(t, c.Add(ids[4]))
	require.Equal(t, 4, c.Len())
	require.False(t, c.Peek(ids[0]), "oldest id should be treated as unseen")
	for _, id := range ids[1:] {
		require.True(t, c.Peek(id))
	}
}

func TestSeenCache_ContainsRefreshesRecency(t *testing.T) {
	c, err := NewSeenCache(2)
	require.NoError(t, err)

	a, b, d := NewMessageID(), NewMessageID(), NewMessageID()
	c.Add(a)
	c.Add(b)
	require.True(t, c.Contains(a))

	c.Add(d)
	require.True(t, c.Peek(a))
	require.False(t, c.Peek(b))
}

func TestSeenCache_DefaultSize(t *testing.T) {
	c, err := NewSeenCache(0)
	require.NoError(t, err)
	for i := 0; i < DefaultSeenCacheSize+1; i++ {
		c.Add(NewMessageID())
	}
	require.Equal(t, DefaultSeenCacheSize, c.Len())
}
