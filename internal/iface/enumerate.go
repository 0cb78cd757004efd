package iface

import (
	"net"
	"time"
)

// PollInterval is how often the daemon re-checks the host's interface list
// for changes, adapted from mdnsd.c's SYS_INTERVAL (10 seconds) — the one
// piece of "interface address change detection" spec.md §1 leaves external
// but which the supplemented daemon still needs to run continuously.
const PollInterval = 10 * time.Second

// Multicast returns every up, multicast-capable, non-loopback interface on
// the host, optionally restricted to name (mdnsd.c's `-i ifname` flag).
// Interfaces without any IPv4 address are skipped since this engine is
// IPv4-only (spec.md Non-goals).
func Multicast(name string) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []net.Interface
	for _, i := range all {
		if name != "" && i.Name != name {
			continue
		}
		if i.Flags&net.FlagUp == 0 || i.Flags&net.FlagMulticast == 0 {
			continue
		}
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}
		if !hasIPv4(i) {
			continue
		}
		out = append(out, i)
	}
	return out, nil
}

func hasIPv4(i net.Interface) bool {
	addrs, err := i.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ip := ipOf(a); ip != nil && ip.To4() != nil {
			return true
		}
	}
	return false
}

func ipOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

// Address returns the first IPv4 address bound to i.
func Address(i net.Interface) (net.IP, bool) {
	addrs, err := i.Addrs()
	if err != nil {
		return nil, false
	}
	for _, a := range addrs {
		if ip := ipOf(a); ip != nil {
			if v4 := ip.To4(); v4 != nil {
				return v4, true
			}
		}
	}
	return nil, false
}

// Changed reports whether the interface set named by Multicast(name) has
// changed since prev, by comparing interface names and indexes. mdnsd.c
// does the equivalent comparison (`ifname` list) inside sys_timeout before
// deciding whether to call iface_init again.
func Changed(prev, next []net.Interface) bool {
	if len(prev) != len(next) {
		return true
	}
	seen := make(map[string]int, len(prev))
	for _, i := range prev {
		seen[i.Name] = i.Index
	}
	for _, i := range next {
		if idx, ok := seen[i.Name]; !ok || idx != i.Index {
			return true
		}
	}
	return false
}
