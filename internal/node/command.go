package node

import (
	"net"

	"go.uber.org/zap"
)

// Command is anything the node loop accepts on its command channel.
type Command interface {
	command()
}

// Die stops the node after the current iteration.
type Die struct{}

// Broadcast originates a new flood carrying Message.
type Broadcast[M any] struct {
	Message M
}

// AddPeer hands an already established connection to the node. Addr is the
// key it is stored under, normally the neighbor's listen address.
type AddPeer struct {
	Conn net.Conn
	Addr string
}

func (Die) command()          {}
func (Broadcast[M]) command() {}
func (AddPeer) command()      {}

// drainCommands empties cmds without blocking once the node is gone.
// Queued connections are closed since nobody will own them.
func drainCommands[M any](cmds <-chan Command, logger *zap.Logger) {
	for {
		select {
		case cmd, ok := <-cmds:
			if !ok {
				return
			}
			switch c := cmd.(type) {
			case AddPeer:
				_ = c.Conn.Close()
				logger.Info("node terminated, queued peer connection closed", zap.String("peer", c.Addr))
			case Broadcast[M]:
				logger.Warn("node terminated, queued broadcast dropped", zap.Any("message", c.Message))
			}
		default:
			return
		}
	}
}

// Delivery is one message handed to the application, with the address of
// the node that originated it.
type Delivery[M any] struct {
	Message M
	Origin  string
}
