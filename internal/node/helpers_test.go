package node

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"flood_mesh/internal/config"
	"flood_mesh/internal/dataType"
	"flood_mesh/internal/peer"
	"flood_mesh/internal/wire"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(name string) config.NodeConfig {
	cfg := config.DefaultNodeConfig(name, "127.0.0.1:0")
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func fastDialer() *peer.Dialer {
	return &peer.Dialer{Attempts: 20, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 100 * time.Millisecond, Factor: 2, Timeout: time.Second}
}

// startNode runs a node on a loopback port and terminates it when the test ends.
func startNode(t *testing.T, cfg config.NodeConfig) *Handle[string] {
	t.Helper()
	n, err := New[string](cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	h := n.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.Terminate(ctx))
	})
	return h
}

// idleNode builds a node whose loop never runs, so tests can drive its
// handlers directly from the test goroutine.
func idleNode(t *testing.T, cfg config.NodeConfig) *Node[string] {
	t.Helper()
	n, err := New[string](cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(n.shutdown)
	return n
}

func connect(t *testing.T, from, to *Handle[string]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, from.Connect(ctx, to.Addr(), fastDialer()))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitPeers(t *testing.T, h *Handle[string], count int) {
	t.Helper()
	waitFor(t, h.Addr()+" peers", func() bool { return len(h.Snapshot().Peers) == count })
}

func receive(t *testing.T, h *Handle[string]) Delivery[string] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, ok, err := h.Receive(ctx)
	require.NoError(t, err, "no delivery at %s", h.Addr())
	require.True(t, ok)
	return d
}

func expectNoDelivery(t *testing.T, h *Handle[string], within time.Duration) {
	t.Helper()
	select {
	case d, ok := <-h.Deliveries():
		if ok {
			t.Fatalf("unexpected delivery at %s: %+v", h.Addr(), d)
		}
	case <-time.After(within):
	}
}

// pipeRemote is the far end of a net.Pipe peer, decoding whatever the node sends.
type pipeRemote struct {
	conn   net.Conn
	frames chan *dataType.Packet[string]
}

// addPipePeer adds a peer as if the node had dialed key.
func addPipePeer(t *testing.T, n *Node[string], key string) *pipeRemote {
	t.Helper()
	return addPipePeerAs(t, n, key, false)
}

// addAcceptedPipePeer adds a peer as if key had connected to the node.
func addAcceptedPipePeer(t *testing.T, n *Node[string], key string) *pipeRemote {
	t.Helper()
	return addPipePeerAs(t, n, key, true)
}

func addPipePeerAs(t *testing.T, n *Node[string], key string, inbound bool) *pipeRemote {
	t.Helper()
	local, remote := net.Pipe()
	pr := &pipeRemote{conn: remote, frames: make(chan *dataType.Packet[string], 16)}
	go func() {
		defer close(pr.frames)
		r := bufio.NewReader(remote)
		for {
			var p dataType.Packet[string]
			if err := (wire.Codec{}).ReadFrame(r, &p); err != nil {
				return
			}
			pr.frames <- &p
		}
	}()
	n.addPeer(local, key, inbound)
	return pr
}

func (pr *pipeRemote) next(t *testing.T) *dataType.Packet[string] {
	t.Helper()
	select {
	case p, ok := <-pr.frames:
		require.True(t, ok, "pipe closed")
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no frame sent to pipe peer")
		return nil
	}
}

func (pr *pipeRemote) none(t *testing.T) {
	t.Helper()
	select {
	case p, ok := <-pr.frames:
		if ok {
			t.Fatalf("unexpected frame: %v", p)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func inboundFrom(from string, pkt *dataType.Packet[string]) peer.Inbound[string] {
	return peer.Inbound[string]{From: from, Packet: pkt}
}
