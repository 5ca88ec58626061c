package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry[string]()
	b := startNode(t, testConfig("b"))
	a := startNode(t, testConfig("a"))
	require.NoError(t, reg.Register("b", b))
	require.NoError(t, reg.Register("a", a))
	require.Error(t, reg.Register("a", a))

	require.Equal(t, []string{"a", "b"}, reg.Names())
	got, ok := reg.Get("a")
	require.True(t, ok)
	require.Same(t, a.snapshot, got.snapshot)
	_, ok = reg.Get("c")
	require.False(t, ok)

	snaps := reg.Snapshots()
	require.Len(t, snaps, 2)
	require.Equal(t, b.Addr(), snaps["b"].Addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.TerminateAll(ctx))
	for _, snap := range reg.Snapshots() {
		require.True(t, snap.Terminated)
	}
}

func TestRegistry_TerminateAllReportsFailures(t *testing.T) {
	reg := NewRegistry[string]()
	stuck := idleNode(t, testConfig("stuck"))
	require.NoError(t, reg.Register("stuck", stuck.handle()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := reg.TerminateAll(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "stuck")
}
