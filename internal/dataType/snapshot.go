package dataType

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const DefaultEventLogSize = 64

type Counters struct {
	Originated  uint64
	Delivered   uint64
	Forwarded   uint64
	Duplicates  uint64
	SendErrors  uint64
	Evictions   uint64
	Dropped     uint64
	RateLimited uint64
	Rejected    uint64
	Admitted    uint64
}

type Event struct {
	Time time.Time
	Text string
}

// NodeSnapshotView is a point-in-time copy safe to keep and read anywhere.
type NodeSnapshotView struct {
	Addr       string
	Peers      []string
	Counters   Counters
	Events     []Event
	Terminated bool
}

// NodeSnapshot is the only node state shared outside the node goroutine.
// The node writes it, display or status code reads it through View.
type NodeSnapshot struct {
	mu         sync.RWMutex
	addr       string
	peers      []string
	counters   Counters
	events     []Event
	next       int
	full       bool
	terminated bool
}

func NewNodeSnapshot(addr string, eventLogSize int) *NodeSnapshot {
	if eventLogSize <= 0 {
		eventLogSize = DefaultEventLogSize
	}
	return &NodeSnapshot{
		addr:   addr,
		events: make([]Event, eventLogSize),
	}
}

func (s *NodeSnapshot) SetPeers(peers []string) {
	cp := make([]string, len(peers))
	copy(cp, peers)
	sort.Strings(cp)
	s.mu.Lock()
	s.peers = cp
	s.mu.Unlock()
}

func (s *NodeSnapshot) Update(fn func(c *Counters)) {
	s.mu.Lock()
	fn(&s.counters)
	s.mu.Unlock()
}

func (s *NodeSnapshot) Logf(format string, args ...any) {
	ev := Event{Time: time.Now(), Text: fmt.Sprintf(format, args...)}
	s.mu.Lock()
	s.events[s.next] = ev
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()
}

func (s *NodeSnapshot) MarkTerminated() {
	s.mu.Lock()
	s.terminated = true
	s.mu.Unlock()
}

// View copies the current state. Events are returned oldest first.
func (s *NodeSnapshot) View() NodeSnapshotView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := NodeSnapshotView{
		Addr:       s.addr,
		Peers:      append([]string(nil), s.peers...),
		Counters:   s.counters,
		Terminated: s.terminated,
	}
	if s.full {
		v.Events = append(v.Events, s.events[s.next:]...)
	}
	v.Events = append(v.Events, s.events[:s.next]...)
	return v
}
