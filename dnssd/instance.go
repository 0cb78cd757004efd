package dnssd

import (
	"errors"
	"net"
	"time"

	"github.com/dnsoverlan/mdnsd/names"
	"github.com/miekg/dns"
)

// InstanceIdentity is the three-part name of a DNS-SD service instance:
// an unqualified instance label, the service type it belongs to, and the
// domain it is discoverable within (RFC 6763 §4.1's
// <Instance>.<Service>.<Domain> form).
type InstanceIdentity struct {
	Name    InstanceName
	Service ServiceType
	Domain  names.FQDN
}

// Validate returns an error if the identity is malformed.
func (n InstanceIdentity) Validate() error {
	if err := n.Name.Validate(); err != nil {
		return err
	}
	if err := n.Service.Validate(); err != nil {
		return err
	}
	return n.Domain.Validate()
}

// FQDN returns the fully-qualified name of the instance.
func (n InstanceIdentity) FQDN() names.FQDN {
	return n.Name.Qualify(n.Service.Qualify(n.Domain))
}

// InstanceCollection is the map of the unqualified service instance name to
// the instance.
type InstanceCollection map[InstanceName]*Instance

// DefaultTTL is the default TTL for all DNS records (mirrors the
// host record TTL mdnsd.c's .service examples conventionally use).
const DefaultTTL = 120 * time.Second

// Instance is a DNS-SD service instance.
type Instance struct {
	InstanceIdentity

	// TargetHost is the fully-qualified hostname of the service. This is
	// not necessarily in the same domain under which discovery is
	// performed.
	TargetHost names.FQDN

	// TargetPort is the TCP/UDP port the service instance listens on.
	TargetPort uint16

	// Text holds the key/value pairs encoded in the instance's TXT record
	// (RFC 6763 §6.3).
	Text *Text

	// TTL is the TTL of the instance's DNS records.
	TTL time.Duration
}

// NewInstance returns a new, validated service instance.
func NewInstance(name, serviceType, domain, host string, port uint16) (*Instance, error) {
	i := &Instance{
		InstanceIdentity: InstanceIdentity{
			Name:    InstanceName(name),
			Service: ServiceType(serviceType),
			Domain:  names.FQDN(domain),
		},
		TargetHost: names.FQDN(host),
		TargetPort: port,
		Text:       &Text{},
	}

	if err := i.Validate(); err != nil {
		return nil, err
	}

	return i, nil
}

// PTR returns the PTR record that service-instance enumeration (browsing)
// for i's service type and domain resolves to.
func (i *Instance) PTR() *dns.PTR {
	return &dns.PTR{
		Hdr: dns.RR_Header{
			Name:   InstanceEnumDomain(i.Service, i.Domain).DNSString(),
			Rrtype: dns.TypePTR,
			Class:  dns.ClassINET,
			Ttl:    i.TTLInSeconds(),
		},
		Ptr: i.FQDN().DNSString(),
	}
}

// SRV returns the instance's SRV record.
func (i *Instance) SRV() *dns.SRV {
	return &dns.SRV{
		Hdr: dns.RR_Header{
			Name:   i.FQDN().DNSString(),
			Rrtype: dns.TypeSRV,
			Class:  dns.ClassINET,
			Ttl:    i.TTLInSeconds(),
		},
		Priority: 0,
		Weight:   0,
		Target:   i.TargetHost.DNSString(),
		Port:     i.TargetPort,
	}
}

// TXT returns the instance's TXT record.
func (i *Instance) TXT() *dns.TXT {
	r := &dns.TXT{
		Hdr: dns.RR_Header{
			Name:   i.FQDN().DNSString(),
			Rrtype: dns.TypeTXT,
			Class:  dns.ClassINET,
			Ttl:    i.TTLInSeconds(),
		},
	}

	if i.Text != nil {
		r.Txt = i.Text.Pairs()
	}

	return r
}

// A returns the instance's target host A record.
func (i *Instance) A(ip net.IP) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   i.TargetHost.DNSString(),
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    i.TTLInSeconds(),
		},
		A: ip,
	}
}

// TTLInSeconds returns the instance's DNS record TTL in seconds. If i.TTL
// is zero, DefaultTTL is used.
func (i *Instance) TTLInSeconds() uint32 {
	ttl := i.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return uint32(ttl.Seconds())
}

// Validate returns an error if the instance is configured incorrectly.
func (i *Instance) Validate() error {
	if err := i.InstanceIdentity.Validate(); err != nil {
		return err
	}

	if err := i.TargetHost.Validate(); err != nil {
		return err
	}

	if i.TargetPort == 0 {
		return errors.New("dnssd: target port must not be zero")
	}

	return nil
}
