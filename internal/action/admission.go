package action

import (
	"fmt"
	"net"
	"net/netip"

	"flood_mesh/internal/config"
	"flood_mesh/internal/dataType"
)

// Admission decides whether an inbound connection may join the peer table.
// Banned hosts are always refused; under the allowlist policy only hosts in
// the known-peers list are admitted.
type Admission struct {
	policy string
	known  dataType.HostTrie
	bans   *dataType.BanList
}

func NewAdmission(policy string, knownPeers []string, bans *dataType.BanList) (*Admission, error) {
	a := &Admission{policy: policy, bans: bans}
	if a.policy == "" {
		a.policy = config.AdmissionOpen
	}
	switch a.policy {
	case config.AdmissionOpen, config.AdmissionAllowList:
	default:
		return nil, fmt.Errorf("unknown admission policy %q", policy)
	}
	for _, rule := range knownPeers {
		p, err := dataType.ParseHostRule(rule)
		if err != nil {
			return nil, fmt.Errorf("known peer %q: %w", rule, err)
		}
		a.known.Insert(p)
	}
	return a, nil
}

func (a *Admission) Policy() string {
	return a.policy
}

// Check runs the admission chain for a remote "host:port" address.
func (a *Admission) Check(remote string) *Decision {
	decision := NewDecision()

	host, err := hostOf(remote)
	if err != nil {
		decision.Set(Reject, err.Error())
		return decision
	}

	a.checkBanned(host, decision)
	a.checkAllowList(host, decision)

	// if still undecided, admit
	if decision.Get() == Undecided {
		decision.Set(Admit, a.policy)
	}
	return decision
}

func (a *Admission) checkBanned(host netip.Addr, decision *Decision) {
	if decision.Get() != Undecided || a.bans == nil {
		return
	}
	if a.bans.IsBanned(host.String()) {
		decision.Set(Reject, "banned")
	}
}

func (a *Admission) checkAllowList(host netip.Addr, decision *Decision) {
	if decision.Get() != Undecided || a.policy != config.AdmissionAllowList {
		return
	}
	if a.known.Contains(host) {
		decision.Set(Admit, "known peer")
	} else {
		decision.Set(Reject, "not in known peers")
	}
}

// HostOf returns the host part of a "host:port" address.
func HostOf(remote string) (string, error) {
	host, err := hostOf(remote)
	if err != nil {
		return "", err
	}
	return host.String(), nil
}

func hostOf(remote string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), nil
	}
	h, _, err := net.SplitHostPort(remote)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("bad remote address %q: %w", remote, err)
	}
	addr, err := netip.ParseAddr(h)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("bad remote host %q: %w", h, err)
	}
	return addr.Unmap(), nil
}
