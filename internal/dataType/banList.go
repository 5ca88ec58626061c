package dataType

import (
	"sync"
	"time"
)

// BanList refuses hosts for a while. Expiry runs on a one-second timing wheel.
type BanList struct {
	mu        sync.RWMutex
	banned    map[string]int64
	buckets   map[int64][]string
	lastCheck int64
	now       func() int64
}

func NewBanList() *BanList {
	bl := &BanList{
		banned:  make(map[string]int64),
		buckets: make(map[int64][]string),
		now:     func() int64 { return time.Now().Unix() },
	}
	bl.lastCheck = bl.now()
	return bl
}

func (bl *BanList) Ban(host string, d time.Duration) {
	seconds := int64(d / time.Second)
	if seconds <= 0 {
		return
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()

	expiration := bl.now() + seconds

	// A longer ban already in place wins.
	if existing, ok := bl.banned[host]; ok && existing >= expiration {
		return
	}

	bl.banned[host] = expiration
	bl.buckets[expiration] = append(bl.buckets[expiration], host)
}

func (bl *BanList) IsBanned(host string) bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	expiration, ok := bl.banned[host]
	if !ok {
		return false
	}
	return bl.now() < expiration
}

// Cleanup drops bans whose expiry second has passed.
func (bl *BanList) Cleanup() {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	now := bl.now()
	for t := bl.lastCheck + 1; t <= now; t++ {
		if hosts, ok := bl.buckets[t]; ok {
			for _, host := range hosts {
				// re-banning may have extended it
				if exp, ok := bl.banned[host]; ok && exp <= now {
					delete(bl.banned, host)
				}
			}
			delete(bl.buckets, t)
		}
	}
	bl.lastCheck = now
}

func (bl *BanList) Len() int {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	return len(bl.banned)
}

// StartBanListGC runs Cleanup every second until stopCh is closed.
func StartBanListGC(bl *BanList, stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			bl.Cleanup()
		case <-stopCh:
			return
		}
	}
}
