package node

import (
	"context"
	"errors"
	"net"

	"flood_mesh/internal/dataType"
	"flood_mesh/internal/peer"

	"go.uber.org/zap"
)

var ErrTerminated = errors.New("node: terminated")

// Handle is how everything outside the node talks to it. It is safe for
// concurrent use; a full command channel blocks callers until the node
// catches up or ctx ends.
type Handle[M any] struct {
	addr       string
	cmds       chan Command
	deliveries <-chan Delivery[M]
	done       <-chan struct{}
	snapshot   *dataType.NodeSnapshot
	logger     *zap.Logger
}

func (h *Handle[M]) Addr() string {
	return h.addr
}

// Send submits any command.
func (h *Handle[M]) Send(ctx context.Context, cmd Command) error {
	select {
	case <-h.done:
		return ErrTerminated
	default:
	}
	select {
	case h.cmds <- cmd:
	case <-h.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
	// The node may have drained its queue before cmd landed.
	select {
	case <-h.done:
		drainCommands[M](h.cmds, h.logger)
		return ErrTerminated
	default:
		return nil
	}
}

func (h *Handle[M]) Broadcast(ctx context.Context, msg M) error {
	return h.Send(ctx, Broadcast[M]{Message: msg})
}

// AddPeer passes conn to the node under addr. If the node cannot take it the
// connection is closed.
func (h *Handle[M]) AddPeer(ctx context.Context, conn net.Conn, addr string) error {
	if err := h.Send(ctx, AddPeer{Conn: conn, Addr: addr}); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Connect dials addr with d and adds the resulting connection as a peer.
func (h *Handle[M]) Connect(ctx context.Context, addr string, d *peer.Dialer) error {
	if d == nil {
		d = peer.DefaultDialer()
	}
	conn, err := d.Dial(ctx, addr)
	if err != nil {
		return err
	}
	return h.AddPeer(ctx, conn, addr)
}

// Terminate asks the node to stop and waits for it.
func (h *Handle[M]) Terminate(ctx context.Context) error {
	if err := h.Send(ctx, Die{}); err != nil && !errors.Is(err, ErrTerminated) {
		return err
	}
	return h.Wait(ctx)
}

// Wait blocks until the node loop has exited.
func (h *Handle[M]) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle[M]) Done() <-chan struct{} {
	return h.done
}

// Receive returns the next delivered message. ok is false once the node has
// terminated and every buffered delivery was consumed.
func (h *Handle[M]) Receive(ctx context.Context) (d Delivery[M], ok bool, err error) {
	select {
	case d, ok = <-h.deliveries:
		return d, ok, nil
	case <-ctx.Done():
		return d, false, ctx.Err()
	}
}

func (h *Handle[M]) Deliveries() <-chan Delivery[M] {
	return h.deliveries
}

func (h *Handle[M]) Snapshot() dataType.NodeSnapshotView {
	return h.snapshot.View()
}
