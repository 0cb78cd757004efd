package engine

import (
	"fmt"

	"github.com/miekg/dns"
)

// parseMessage unpacks buf into a Message. miekg/dns.Msg.Unpack already
// enforces RFC 1035's pointer-loop and forward-pointer protections and
// rejects label lengths over 63 octets; parseMessage adds the mDNS-level
// input bound (spec.md §4.1) and classifies failures as ErrMalformed so
// callers never have to inspect the underlying error to decide policy —
// per §7, parse failures are always dropped, never surfaced as a hard
// error.
func parseMessage(buf []byte) (*dns.Msg, error) {
	if len(buf) > maxInboundPacketLen {
		return nil, fmt.Errorf("%w: packet of %d octets exceeds %d", ErrMalformed, len(buf), maxInboundPacketLen)
	}

	m := new(dns.Msg)
	if err := m.Unpack(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return m, nil
}

// serializeMessage packs as many of m.Answer's records as fit within
// budget octets, in order, and returns the packed bytes along with any
// trailing answer records that did not fit. When records are left over, TC
// is set on the returned copy's header and the caller is expected to
// requeue the remainder for the next tick (spec.md §4.1 invariant 4,
// scenario 5).
//
// miekg/dns has no incremental-pack API that reports how many records fit,
// so this builds up the answer section one record at a time and repacks;
// dissolve's transport.NewOutboundPacket packs the whole message in one
// shot because its callers never exceed a single UDP datagram's answer set
// — this module's publisher and query tracker can produce more than that
// (e.g. service-type enumeration replies), so deferral has to be explicit.
func serializeMessage(m *dns.Msg, budget int) (out []byte, rest []dns.RR, err error) {
	// Name compression is always on. It is set on m itself, not only on the
	// candidate copy, so a caller that later packs m (or a copy of it) gets
	// the same sizes this budget check measured.
	m.Compress = true
	candidate := new(dns.Msg)
	*candidate = *m
	candidate.Answer = nil

	fitted := make([]dns.RR, 0, len(m.Answer))
	for i, rr := range m.Answer {
		candidate.Answer = append(candidate.Answer, rr)
		packed, err := candidate.Pack()
		if err != nil {
			// A single record too large to pack at all is dropped
			// rather than wedging the whole message; this should
			// only happen for pathological TXT rdata near the
			// 8900-octet ceiling.
			candidate.Answer = candidate.Answer[:len(candidate.Answer)-1]
			continue
		}
		if len(packed) > budget {
			candidate.Answer = candidate.Answer[:len(candidate.Answer)-1]
			rest = append([]dns.RR{}, m.Answer[i:]...)
			break
		}
		out = packed
		fitted = append(fitted, rr)
	}

	if len(fitted) == 0 && len(m.Answer) > 0 {
		return nil, m.Answer, fmt.Errorf("engine: no answer record fit within %d octets", budget)
	}

	if len(rest) > 0 {
		candidate.Truncated = true
		out, err = candidate.Pack()
		if err != nil {
			return nil, rest, err
		}
	}
	if out == nil {
		out, err = candidate.Pack()
	}
	return out, rest, err
}
