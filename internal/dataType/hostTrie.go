package dataType

import (
	"net/netip"
)

type trieNode struct {
	children [2]*trieNode
	isEnd    bool
}

func (node *trieNode) insert(bytes []byte, bits int) {
	current := node
	for i := 0; i < bits; i++ {
		bit := (bytes[i/8] >> (7 - uint(i%8))) & 1
		if current.children[bit] == nil {
			current.children[bit] = &trieNode{}
		}
		current = current.children[bit]
	}
	current.isEnd = true
}

func (node *trieNode) search(bytes []byte) bool {
	current := node
	for i := 0; i < len(bytes)*8; i++ {
		if current.isEnd {
			return true
		}
		bit := (bytes[i/8] >> (7 - uint(i%8))) & 1
		if current.children[bit] == nil {
			return false
		}
		current = current.children[bit]
	}
	return current.isEnd
}

// HostTrie matches host addresses against a set of prefixes. IPv4 and IPv6
// live in separate tries; IPv4-mapped IPv6 addresses are matched as IPv4.
type HostTrie struct {
	v4 trieNode
	v6 trieNode
}

func (t *HostTrie) Insert(p netip.Prefix) {
	p = p.Masked()
	addr := p.Addr()
	if addr.Is4() {
		b := addr.As4()
		t.v4.insert(b[:], p.Bits())
		return
	}
	b := addr.As16()
	t.v6.insert(b[:], p.Bits())
}

func (t *HostTrie) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return t.v4.search(b[:])
	}
	b := addr.As16()
	return t.v6.search(b[:])
}

// ParseHostRule accepts a bare IP or a CIDR and returns it as a prefix.
func ParseHostRule(rule string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(rule); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(rule)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
