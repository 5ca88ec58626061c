package peer

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"flood_mesh/internal/dataType"
	"flood_mesh/internal/wire"

	"go.uber.org/zap"
)

// Inbound is a packet decoded by some peer's receive loop.
type Inbound[M any] struct {
	From   string
	Packet *dataType.Packet[M]
}

type Options struct {
	Codec        wire.Codec
	WriteTimeout time.Duration
	// Inbound marks connections the node accepted rather than dialed.
	Inbound bool
}

// Peer owns one TCP connection to a neighbor. Send is called by the node
// goroutine only; the receive loop runs on its own goroutine.
type Peer[M any] struct {
	addr   string
	conn   net.Conn
	writer *bufio.Writer
	opts   Options
	logger *zap.Logger

	failures  int
	closeOnce sync.Once
	exited    chan struct{}
}

// New wraps conn and starts its receive loop. Decoded packets go to inbound;
// when the loop ends the peer itself is sent on dead. Both sends give up
// once done is closed.
func New[M any](conn net.Conn, addr string, opts Options, inbound chan<- Inbound[M], dead chan<- *Peer[M], done <-chan struct{}, logger *zap.Logger) *Peer[M] {
	p := &Peer[M]{
		addr:   addr,
		conn:   conn,
		writer: bufio.NewWriter(conn),
		opts:   opts,
		logger: logger.With(zap.String("peer", addr)),
		exited: make(chan struct{}),
	}
	go p.receiveLoop(inbound, dead, done)
	return p
}

func (p *Peer[M]) Addr() string {
	return p.addr
}

func (p *Peer[M]) Inbound() bool {
	return p.opts.Inbound
}

// Send writes one framed packet and flushes it.
func (p *Peer[M]) Send(pkt *dataType.Packet[M]) error {
	if p.opts.WriteTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	return p.opts.Codec.WriteFrame(p.writer, pkt)
}

// RecordSendResult tracks consecutive send failures and returns the current run.
func (p *Peer[M]) RecordSendResult(err error) int {
	if err == nil {
		p.failures = 0
	} else {
		p.failures++
	}
	return p.failures
}

func (p *Peer[M]) ConsecutiveFailures() int {
	return p.failures
}

func (p *Peer[M]) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.Close()
	})
	return err
}

// Exited is closed when the receive loop has returned.
func (p *Peer[M]) Exited() <-chan struct{} {
	return p.exited
}

func (p *Peer[M]) receiveLoop(inbound chan<- Inbound[M], dead chan<- *Peer[M], done <-chan struct{}) {
	defer close(p.exited)
	reader := bufio.NewReader(p.conn)
	for {
		var pkt dataType.Packet[M]
		err := p.opts.Codec.ReadFrame(reader, &pkt)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				p.logger.Debug("connection closed")
			} else {
				p.logger.Warn("receive loop stopped", zap.Error(err))
			}
			break
		}
		select {
		case inbound <- Inbound[M]{From: p.addr, Packet: &pkt}:
		case <-done:
			return
		}
	}
	select {
	case dead <- p:
	case <-done:
	}
}
