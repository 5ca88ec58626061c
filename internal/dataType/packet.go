package dataType

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// MessageID tags one originated broadcast. It is only used for dedup.
type MessageID = uuid.UUID

func NewMessageID() MessageID {
	return uuid.New()
}

type OpKind uint8

const (
	OpBroadcast OpKind = iota + 1
	OpDirected
)

func (k OpKind) String() string {
	switch k {
	case OpBroadcast:
		return "broadcast"
	case OpDirected:
		return "directed"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

type PayloadKind uint8

const (
	PayloadMessage PayloadKind = iota + 1
	PayloadHeartbeat
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadMessage:
		return "message"
	case PayloadHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("payload(%d)", uint8(k))
	}
}

// AddrSet is a sorted, duplicate-free list of node addresses.
type AddrSet []string

func NewAddrSet(addrs ...string) AddrSet {
	var s AddrSet
	for _, a := range addrs {
		s = s.With(a)
	}
	return s
}

func (s AddrSet) Contains(addr string) bool {
	i := sort.SearchStrings(s, addr)
	return i < len(s) && s[i] == addr
}

// With returns a copy of s that also holds addr. s itself is never modified.
func (s AddrSet) With(addr string) AddrSet {
	i := sort.SearchStrings(s, addr)
	if i < len(s) && s[i] == addr {
		out := make(AddrSet, len(s))
		copy(out, s)
		return out
	}
	out := make(AddrSet, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, addr)
	out = append(out, s[i:]...)
	return out
}

// Operation says how a packet travels. Seen and Hops are only meaningful
// for OpBroadcast, Target only for OpDirected.
type Operation struct {
	Kind   OpKind  `msgpack:"kind"`
	Seen   AddrSet `msgpack:"seen,omitempty"`
	Hops   uint16  `msgpack:"hops,omitempty"`
	Target string  `msgpack:"target,omitempty"`
}

func Broadcast(seen AddrSet, hops uint16) Operation {
	return Operation{Kind: OpBroadcast, Seen: seen, Hops: hops}
}

func Directed(target string) Operation {
	return Operation{Kind: OpDirected, Target: target}
}

type Payload[M any] struct {
	Kind    PayloadKind `msgpack:"kind"`
	Message M           `msgpack:"message,omitempty"`
}

func MessagePayload[M any](m M) Payload[M] {
	return Payload[M]{Kind: PayloadMessage, Message: m}
}

func HeartbeatPayload[M any]() Payload[M] {
	return Payload[M]{Kind: PayloadHeartbeat}
}

// Packet is the unit carried by one wire frame. Sender is the address of the
// node that originated the message and does not change between hops.
type Packet[M any] struct {
	ID      MessageID  `msgpack:"id"`
	Sender  string     `msgpack:"sender"`
	Op      Operation  `msgpack:"op"`
	Payload Payload[M] `msgpack:"payload"`
}

func NewPacket[M any](sender string, op Operation, payload Payload[M]) *Packet[M] {
	return &Packet[M]{
		ID:      NewMessageID(),
		Sender:  sender,
		Op:      op,
		Payload: payload,
	}
}

// Forwarded builds the packet a relay sends on: same id, sender and payload,
// self added to the seen set and one more hop.
func (p *Packet[M]) Forwarded(self string) *Packet[M] {
	return &Packet[M]{
		ID:      p.ID,
		Sender:  p.Sender,
		Op:      Broadcast(p.Op.Seen.With(self), nextHop(p.Op.Hops)),
		Payload: p.Payload,
	}
}

// nextHop saturates so the count never wraps back to zero.
func nextHop(h uint16) uint16 {
	if h == math.MaxUint16 {
		return h
	}
	return h + 1
}

func (p *Packet[M]) String() string {
	switch p.Op.Kind {
	case OpBroadcast:
		return fmt.Sprintf("%s from %s %s hops=%d seen=%v %s %v", p.ID, p.Sender, p.Op.Kind, p.Op.Hops, []string(p.Op.Seen), p.Payload.Kind, p.Payload.Message)
	default:
		return fmt.Sprintf("%s from %s %s target=%s %s %v", p.ID, p.Sender, p.Op.Kind, p.Op.Target, p.Payload.Kind, p.Payload.Message)
	}
}
