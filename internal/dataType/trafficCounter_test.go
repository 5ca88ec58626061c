package dataType

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrafficCounter_SlidingWindow(t *testing.T) {
	tc := NewTrafficCounter(4, 3*time.Second)
	now := int64(1_000)
	tc.now = func() int64 { return now }

	require.Equal(t, int64(1), tc.Add("127.0.0.1:7000", 1))
	require.Equal(t, int64(3), tc.Add("127.0.0.1:7000", 2))
	require.Equal(t, int64(0), tc.Query("127.0.0.1:7001"))

	now++
	require.Equal(t, int64(4), tc.Add("127.0.0.1:7000", 1))

	now += 3
	require.Equal(t, int64(0), tc.Query("127.0.0.1:7000"))
	require.Equal(t, int64(1), tc.Add("127.0.0.1:7000", 1))
}

func TestTrafficCounter_ResetAndGC(t *testing.T) {
	tc := NewTrafficCounter(2, 2*time.Second)
	now := int64(50)
	tc.now = func() int64 { return now }

	tc.Add("a", 5)
	tc.Add("b", 5)
	tc.Reset("a")
	require.Equal(t, int64(0), tc.Query("a"))

	now += 10
	tc.GC()
	for _, s := range tc.shards {
		require.Empty(t, s.windows)
	}
}
