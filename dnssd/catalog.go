package dnssd

import (
	"errors"
	"net"

	"github.com/dnsoverlan/mdnsd/engine"
	"github.com/dnsoverlan/mdnsd/names"
	"github.com/miekg/dns"
)

// hostEntry tracks the published A record for a target host shared by one
// or more instances, so the record is only withdrawn once nothing still
// references it.
type hostEntry struct {
	rec  *engine.LocalRecord
	refs int
}

// Catalog publishes and withdraws DNS-SD service instances against a single
// engine.Engine, replacing the pull-based Handler/Answerer duplication the
// teacher package carried (two independently-evolved designs answering the
// same questions against mdns.Handler and server.Answerer). A Catalog
// instead pushes PTR/SRV/TXT/A record sets straight into the engine via
// Publish, so the engine's own additional-record synthesis (RFC 6763 §12)
// can find the target host's A record without a resolver round-trip.
type Catalog struct {
	eng       *engine.Engine
	instances map[InstanceName][]*engine.LocalRecord
	hosts     map[names.FQDN]*hostEntry
}

// NewCatalog returns a Catalog that publishes to eng.
func NewCatalog(eng *engine.Engine) *Catalog {
	return &Catalog{
		eng:       eng,
		instances: make(map[InstanceName][]*engine.LocalRecord),
		hosts:     make(map[names.FQDN]*hostEntry),
	}
}

// AddInstance publishes i's PTR, SRV and TXT records, and, if ip is
// non-nil, the target host's A record (shared across every instance
// published against the same TargetHost). conflict is invoked if a probe
// for any of these records detects another host already claiming it.
func (c *Catalog) AddInstance(i *Instance, ip net.IP, conflict engine.ConflictFunc) error {
	if err := i.Validate(); err != nil {
		return err
	}

	recs := make([]*engine.LocalRecord, 0, 3)
	for _, rr := range []dns.RR{i.PTR(), i.SRV(), i.TXT()} {
		lr, err := c.eng.Publish(rr, conflict, i.Name)
		if err != nil && !errors.Is(err, engine.ErrDuplicateRecord) {
			for _, added := range recs {
				c.eng.Withdraw(added)
			}
			return err
		}
		recs = append(recs, lr)
	}
	c.instances[i.Name] = recs

	if ip != nil {
		if err := c.addHostRef(i.TargetHost, ip, conflict); err != nil {
			for _, added := range recs {
				c.eng.Withdraw(added)
			}
			delete(c.instances, i.Name)
			return err
		}
	}

	return nil
}

func (c *Catalog) addHostRef(host names.FQDN, ip net.IP, conflict engine.ConflictFunc) error {
	if he, ok := c.hosts[host]; ok {
		he.refs++
		return nil
	}

	a := &dns.A{
		Hdr: dns.RR_Header{Name: host.DNSString(), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: uint32(DefaultTTL.Seconds())},
		A:   ip,
	}
	lr, err := c.eng.Publish(a, conflict, host)
	if err != nil && !errors.Is(err, engine.ErrDuplicateRecord) {
		return err
	}
	c.hosts[host] = &hostEntry{rec: lr, refs: 1}
	return nil
}

// RemoveInstance withdraws every record published for i, and releases its
// reference to the shared target host A record, withdrawing that too once
// no instance references it any longer.
func (c *Catalog) RemoveInstance(i *Instance) {
	for _, lr := range c.instances[i.Name] {
		c.eng.Withdraw(lr)
	}
	delete(c.instances, i.Name)

	he, ok := c.hosts[i.TargetHost]
	if !ok {
		return
	}
	he.refs--
	if he.refs <= 0 {
		c.eng.Withdraw(he.rec)
		delete(c.hosts, i.TargetHost)
	}
}
