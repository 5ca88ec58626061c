package dataType

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type timeSegment struct {
	timestamp int64
	count     int64
}

// peerWindow is a ring of one-second segments for a single peer.
type peerWindow struct {
	segments    []timeSegment
	segSize     int64
	lastUpdated int64
}

func newPeerWindow(seconds int64, now int64) *peerWindow {
	return &peerWindow{
		segments:    make([]timeSegment, seconds),
		segSize:     seconds,
		lastUpdated: now,
	}
}

func (w *peerWindow) add(ts int64, value int64) {
	idx := ts % w.segSize
	if w.segments[idx].timestamp != ts {
		w.segments[idx].timestamp = ts
		w.segments[idx].count = value
	} else {
		w.segments[idx].count += value
	}
	w.lastUpdated = ts
}

func (w *peerWindow) sum(lastN int64, now int64) int64 {
	if lastN > w.segSize {
		lastN = w.segSize
	}
	var total int64
	for i := int64(0); i < lastN; i++ {
		sec := now - lastN + 1 + i
		idx := sec % w.segSize
		if w.segments[idx].timestamp == sec {
			total += w.segments[idx].count
		}
	}
	return total
}

type trafficShard struct {
	mu      sync.Mutex
	windows map[uint64]*peerWindow
}

// TrafficCounter counts packets per peer over a sliding window of whole
// seconds. Keys are spread over shards by xxhash so readers on other
// goroutines (status output) rarely contend with the node loop.
type TrafficCounter struct {
	shards     []*trafficShard
	shardCount uint64
	window     int64
	now        func() int64
}

func NewTrafficCounter(shardCount int, window time.Duration) *TrafficCounter {
	if shardCount <= 0 {
		shardCount = 1
	}
	seconds := int64(window / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	tc := &TrafficCounter{
		shards:     make([]*trafficShard, shardCount),
		shardCount: uint64(shardCount),
		window:     seconds,
		now:        func() int64 { return time.Now().Unix() },
	}
	for i := range tc.shards {
		tc.shards[i] = &trafficShard{windows: make(map[uint64]*peerWindow)}
	}
	return tc
}

func (tc *TrafficCounter) shard(key string) (*trafficShard, uint64) {
	h := xxhash.Sum64String(key)
	return tc.shards[h%tc.shardCount], h
}

// Add records value packets for key and returns the total inside the window.
func (tc *TrafficCounter) Add(key string, value int64) int64 {
	now := tc.now()
	s, h := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[h]
	if !ok {
		w = newPeerWindow(tc.window, now)
		s.windows[h] = w
	}
	w.add(now, value)
	return w.sum(tc.window, now)
}

func (tc *TrafficCounter) Query(key string) int64 {
	now := tc.now()
	s, h := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[h]; ok {
		return w.sum(tc.window, now)
	}
	return 0
}

func (tc *TrafficCounter) Reset(key string) {
	s, h := tc.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, h)
}

// GC drops windows that have not been touched for a full window.
func (tc *TrafficCounter) GC() {
	expireThreshold := tc.now() - tc.window
	for _, s := range tc.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if w.lastUpdated < expireThreshold {
				delete(s.windows, key)
			}
		}
		s.mu.Unlock()
	}
}
