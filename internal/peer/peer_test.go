package peer

import (
	"bufio"
	"net"
	"testing"
	"time"

	"flood_mesh/internal/dataType"
	"flood_mesh/internal/wire"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPeer_SendIsReceivedInOrder(t *testing.T) {
	left, right := net.Pipe()
	done := make(chan struct{})
	defer close(done)

	inbound := make(chan Inbound[string], 8)
	dead := make(chan *Peer[string], 2)
	logger := zap.NewNop()

	sender := New[string](left, "right", Options{}, make(chan Inbound[string]), dead, done, logger)
	receiver := New[string](right, "left", Options{}, inbound, dead, done, logger)
	defer sender.Close()
	defer receiver.Close()

	for _, s := range []string{"one", "two", "three"} {
		pkt := dataType.NewPacket("127.0.0.1:7000", dataType.Broadcast(dataType.NewAddrSet("127.0.0.1:7000"), 0), dataType.MessagePayload(s))
		require.NoError(t, sender.Send(pkt))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case in := <-inbound:
			require.Equal(t, "left", in.From)
			require.Equal(t, want, in.Packet.Payload.Message)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestPeer_ReportsDeadOnDecodeError(t *testing.T) {
	left, right := net.Pipe()
	done := make(chan struct{})
	defer close(done)

	dead := make(chan *Peer[string], 1)
	p := New[string](right, "left", Options{Codec: wire.Codec{MaxFrameSize: 8}}, make(chan Inbound[string], 1), dead, done, zap.NewNop())

	// Header claims far more than MaxFrameSize.
	go func() {
		_, _ = left.Write([]byte{0xff, 0, 0, 0, 0, 0, 0, 0})
	}()

	select {
	case got := <-dead:
		require.Same(t, p, got)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not report termination")
	}
	<-p.Exited()
	_ = left.Close()
}

func TestPeer_ReportsDeadOnRemoteClose(t *testing.T) {
	left, right := net.Pipe()
	done := make(chan struct{})
	defer close(done)

	dead := make(chan *Peer[string], 1)
	p := New[string](right, "left", Options{}, make(chan Inbound[string], 1), dead, done, zap.NewNop())
	require.NoError(t, left.Close())

	select {
	case got := <-dead:
		require.Same(t, p, got)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not report termination")
	}
}

func TestPeer_ExitsWhenNodeIsDone(t *testing.T) {
	left, right := net.Pipe()
	done := make(chan struct{})

	// Unbuffered and never read: the loop is parked on delivery.
	inbound := make(chan Inbound[string])
	p := New[string](right, "left", Options{}, inbound, make(chan *Peer[string]), done, zap.NewNop())

	go func() {
		w := bufio.NewWriter(left)
		_ = wire.Codec{}.WriteFrame(w, dataType.NewPacket("n", dataType.Broadcast(nil, 0), dataType.MessagePayload("x")))
	}()

	time.Sleep(50 * time.Millisecond)
	close(done)

	select {
	case <-p.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop still running after done was closed")
	}
	_ = left.Close()
	_ = p.Close()
}

func TestPeer_SendFailsAfterClose(t *testing.T) {
	left, right := net.Pipe()
	done := make(chan struct{})
	defer close(done)
	defer right.Close()

	p := New[string](left, "right", Options{WriteTimeout: 100 * time.Millisecond}, make(chan Inbound[string]), make(chan *Peer[string], 1), done, zap.NewNop())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Send(dataType.NewPacket("n", dataType.Broadcast(nil, 0), dataType.MessagePayload("x")))
	require.Error(t, err)
	require.Equal(t, 1, p.RecordSendResult(err))
	require.Equal(t, 2, p.RecordSendResult(err))
	require.Equal(t, 0, p.RecordSendResult(nil))
}
