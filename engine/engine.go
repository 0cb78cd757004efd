package engine

import (
	"net"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/miekg/dns"
)

// MulticastGroup is the mDNS link-local multicast group (RFC 6762 §3).
const MulticastGroup = "224.0.0.251"

// Port is the mDNS well-known port (RFC 6762 §3).
const Port = 5353

// outboundPacket is one entry in the engine's outbound queue. dest is nil
// for multicast traffic.
type outboundPacket struct {
	msg  *dns.Msg
	dest *net.UDPAddr
}

// pendingResponse aggregates answers to multicast queries received within
// a single response-aggregation window (RFC 6762 §6, spec.md §4.4).
type pendingResponse struct {
	fireAt time.Time
	byFP   map[string]dns.RR
	extra  map[string]dns.RR
}

type receiveHook struct {
	fn  RecordFunc
	arg any
}

// Engine is the mDNS/DNS-SD protocol engine for a single interface
// (spec.md §3). It performs no I/O: a host feeds it inbound datagrams via
// In, drains outbound datagrams via Out, and calls Step/Sleep to advance
// its timers.
type Engine struct {
	class      uint16
	maxRecords int
	address    net.IP

	clock  Clock
	logger logging.Logger

	store       *store
	local       map[uint64]*localRecord
	localNextID uint64

	queries []*query

	receiveHooks []receiveHook

	outq            []outboundPacket
	pendingResponse *pendingResponse

	shuttingDown bool
}

// New creates an Engine. class is almost always dns.ClassINET (1);
// maxRecords bounds the cache table (the source default, carried from
// mdnsd_new(QCLASS_IN, 1000), is 1000).
func New(class uint16, maxRecords int, opts ...Option) *Engine {
	e := &Engine{
		class:      class,
		maxRecords: maxRecords,
		store:      newStore(maxRecords),
		local:      make(map[uint64]*localRecord),
		logger:     logging.DefaultLogger,
		clock:      NewSystemClock(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetAddress sets the local IPv4 address used to fill in A records
// published with a nil rdata address. Conflict detection does not consult
// it: no address-based tiebreak is applied.
func (e *Engine) SetAddress(ip net.IP) {
	e.address = ip.To4()
}

// Publish adds rr as a local record, starting its probe (if rr's type
// requires uniqueness) or announce lifecycle. conflict, if non-nil, is
// invoked if a probe detects another host claiming the same (name, type)
// with different rdata. Publishing an RR identical in (name, type, rdata)
// to one already published is idempotent (invariant 1): no second record is
// created and the existing handle is returned, alongside ErrDuplicateRecord
// so a caller that cares to distinguish "newly published" from
// "already published" can do so with errors.Is; callers that don't care may
// ignore the error and use the returned handle either way.
func (e *Engine) Publish(rr dns.RR, conflict ConflictFunc, arg any) (*LocalRecord, error) {
	if e.shuttingDown {
		return nil, ErrShutdown
	}

	if a, ok := rr.(*dns.A); ok && a.A == nil {
		if e.address == nil {
			return nil, ErrNoAddress
		}
		a.A = e.address
	}

	fp := fingerprint(rr)
	for _, l := range e.local {
		if l.fingerprint() == fp {
			return &LocalRecord{rec: l}, ErrDuplicateRecord
		}
	}

	l := &localRecord{
		rr:       dns.Copy(rr),
		unique:   isUniqueType(rr.Header().Rrtype),
		conflict: conflict,
		arg:      arg,
	}
	e.publish(l, e.clock.Now())

	e.localNextID++
	e.local[e.localNextID] = l

	return &LocalRecord{rec: l}, nil
}

// isUniqueType reports whether records of rtype must probe for uniqueness
// before being advertised. PTR records are shared by convention (multiple
// hosts legitimately point the same service-enumeration name at distinct
// instances); every other type this engine handles is treated as unique
// (spec.md §3: "A, SRV, most TXT").
func isUniqueType(rtype uint16) bool {
	return rtype != dns.TypePTR
}

// Withdraw schedules l's goodbye packet (TTL=0). The next Step queues that
// packet and removes the record from the local table.
func (e *Engine) Withdraw(l *LocalRecord) {
	if l == nil || l.rec == nil {
		return
	}
	e.withdraw(l.rec, e.clock.Now())
}

// Query registers a new outstanding question. answer fires once for every
// new record matching (name, rtype); rtype may be dns.TypeANY.
func (e *Engine) Query(name string, rtype uint16, answer AnswerFunc, arg any) *Query {
	return e.registerQuery(name, rtype, answer, arg, e.clock.Now())
}

// CancelQuery unregisters q. Its pending retransmit is dropped before the
// next Step call.
func (e *Engine) CancelQuery(q *Query) {
	e.cancelQuery(q)
}

// OnReceive registers a hook invoked for every record the engine stores to
// cache, independent of any active query.
func (e *Engine) OnReceive(fn RecordFunc, arg any) {
	e.receiveHooks = append(e.receiveHooks, receiveHook{fn: fn, arg: arg})
}

// Shutdown begins the goodbye phase for every published record and queues
// their goodbye packet straight away, so no further Step is needed. Out
// continues to return goodbye packets until it reports empty, then the
// engine is inert.
func (e *Engine) Shutdown() {
	e.shuttingDown = true
	now := e.clock.Now()
	for _, l := range e.local {
		e.withdraw(l, now)
	}
	e.advancePublishers(now)
}

// enqueueMulticast queues m for transmission to the mDNS multicast group.
func (e *Engine) enqueueMulticast(m *dns.Msg) {
	e.outq = append(e.outq, outboundPacket{msg: m})
}

// enqueueUnicast queues m for transmission to dest.
func (e *Engine) enqueueUnicast(m *dns.Msg, dest *net.UDPAddr) {
	e.outq = append(e.outq, outboundPacket{msg: m, dest: dest})
}

// Out drains one outbound packet. ok is false once the queue is empty.
// Packets larger than MaxPacketLen are split: the returned message carries
// as many answer records as fit, TC is set, and the remainder is requeued
// for the next call (spec.md §4.1 invariant 4, scenario 5).
func (e *Engine) Out() (*dns.Msg, *net.UDPAddr, bool) {
	if len(e.outq) == 0 {
		return nil, nil, false
	}

	pkt := e.outq[0]
	e.outq = e.outq[1:]

	_, rest, err := serializeMessage(pkt.msg, MaxPacketLen)
	if err != nil {
		logging.Log(e.logger, "dropping outbound message that could not be packed: %s", err)
		return e.Out()
	}

	if len(rest) == 0 {
		return pkt.msg, pkt.dest, true
	}

	fitted := new(dns.Msg)
	*fitted = *pkt.msg
	fitted.Answer = pkt.msg.Answer[:len(pkt.msg.Answer)-len(rest)]
	fitted.Truncated = true

	remainder := new(dns.Msg)
	*remainder = *pkt.msg
	remainder.Answer = rest
	e.outq = append([]outboundPacket{{msg: remainder, dest: pkt.dest}}, e.outq...)

	return fitted, pkt.dest, true
}
