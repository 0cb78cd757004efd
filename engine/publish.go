package engine

import (
	"time"

	"github.com/miekg/dns"
)

// publishState is a state in the probe/announce/steady/goodbye lifecycle a
// unique local record traverses (spec.md §4.4). Non-unique records (shared
// PTRs) skip probing and start at stateAnnounce1.
type publishState int

const (
	stateProbe1 publishState = iota
	stateProbe2
	stateProbe3
	stateAnnounce1
	stateAnnounce2
	stateSteady
	stateGoodbye
	stateDone
)

// publish registers l's initial timer according to whether it must probe,
// per spec.md §4.4's "non-unique records skip probing" rule.
func (e *Engine) publish(l *localRecord, now time.Time) {
	if l.unique {
		l.state = stateProbe1
		l.nextSend = now.Add(e.clock.Jitter(probeInitialJitter))
	} else {
		l.state = stateAnnounce1
		l.nextSend = now
	}
}

// withdraw moves l into the goodbye state. The record is removed from the
// local table once its goodbye packet has actually been placed on the
// outbound queue (see advancePublishers).
func (e *Engine) withdraw(l *localRecord, now time.Time) {
	if l.state == stateGoodbye || l.state == stateDone {
		return
	}
	l.withdrawn = true
	l.state = stateGoodbye
	l.nextSend = now
}

// advancePublishers walks every local record whose nextSend has arrived and
// fires its state's entry action, queuing the resulting packet and
// scheduling the next transition. It returns the earliest nextSend among
// records that still have one pending, or zero time if none do.
func (e *Engine) advancePublishers(now time.Time) time.Time {
	var nextWake time.Time
	var goodbyes []dns.RR

	for _, l := range e.local {
		if l.state == stateDone {
			continue
		}
		if l.state == stateSteady {
			continue
		}
		if l.nextSend.IsZero() || now.Before(l.nextSend) {
			nextWake = earliest(nextWake, l.nextSend)
			continue
		}

		switch l.state {
		case stateProbe1, stateProbe2, stateProbe3:
			e.sendProbe(l, now)
			l.probesSent++
			l.lastSend = now
			switch l.state {
			case stateProbe1:
				l.state = stateProbe2
			case stateProbe2:
				l.state = stateProbe3
			case stateProbe3:
				l.state = stateAnnounce1
			}
			l.nextSend = now.Add(probeInterval)

		case stateAnnounce1:
			e.sendAnnounce(l, now)
			l.lastSend = now
			l.state = stateAnnounce2
			l.nextSend = now.Add(announceInterval)

		case stateAnnounce2:
			e.sendAnnounce(l, now)
			l.lastSend = now
			l.state = stateSteady
			l.nextSend = time.Time{}

		case stateGoodbye:
			rr := dns.Copy(l.rr)
			rr.Header().Ttl = 0
			if l.unique {
				setCacheFlush(rr, true)
			}
			goodbyes = append(goodbyes, rr)
			l.state = stateDone
			l.nextSend = time.Time{}
		}

		if !l.nextSend.IsZero() {
			nextWake = earliest(nextWake, l.nextSend)
		}
	}

	// Every goodbye that fell due this tick goes out in one packet.
	if len(goodbyes) > 0 {
		e.sendGoodbye(goodbyes)
	}

	// Records that finished Goodbye this tick are reaped here rather than
	// inside the loop above, since deleting from e.local mid-range would
	// skip entries.
	for k, l := range e.local {
		if l.state == stateDone {
			delete(e.local, k)
		}
	}

	return nextWake
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if b.Before(a) {
		return b
	}
	return a
}

// sendProbe enqueues a probe question (QU bit clear, record carried in the
// authority section so a conflicting responder can compare rdata, per RFC
// 6762 §8.1).
func (e *Engine) sendProbe(l *localRecord, now time.Time) {
	m := new(dns.Msg)
	m.Id = 0
	m.Question = []dns.Question{{
		Name:   l.rr.Header().Name,
		Qtype:  l.rr.Header().Rrtype,
		Qclass: dns.ClassINET,
	}}
	m.Ns = []dns.RR{dns.Copy(l.rr)}
	e.enqueueMulticast(m)
}

// sendAnnounce enqueues an unsolicited response advertising l, with the
// cache-flush bit set for unique records (RFC 6762 §8.3, §10.2).
func (e *Engine) sendAnnounce(l *localRecord, now time.Time) {
	m := e.responseFor(l)
	e.enqueueMulticast(m)
}

// sendGoodbye enqueues one response carrying every record in rrs, each
// already at TTL=0 (RFC 6762 §10.1).
func (e *Engine) sendGoodbye(rrs []dns.RR) {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = rrs
	e.enqueueMulticast(m)
}

// responseFor builds an unsolicited-response message for l, including
// RFC 6763 §12 additional records.
func (e *Engine) responseFor(l *localRecord) *dns.Msg {
	rr := dns.Copy(l.rr)
	if l.unique {
		setCacheFlush(rr, true)
	}
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	m.Answer = []dns.RR{rr}
	m.Extra = e.additionalRecords(rr)
	return m
}

// additionalRecords implements the RFC 6763 §12 "answer implies" rule: an
// SRV answer implies the target's A record; a PTR answer implies the
// pointed instance's SRV and TXT.
func (e *Engine) additionalRecords(rr dns.RR) []dns.RR {
	var extra []dns.RR
	switch v := rr.(type) {
	case *dns.SRV:
		if a := e.lookupLocalA(v.Target); a != nil {
			extra = append(extra, a)
		}
	case *dns.PTR:
		target := v.Ptr
		if srv := e.lookupLocal(target, dns.TypeSRV); srv != nil {
			extra = append(extra, srv)
			if a := e.lookupLocalA(srv.(*dns.SRV).Target); a != nil {
				extra = append(extra, a)
			}
		}
		if txt := e.lookupLocal(target, dns.TypeTXT); txt != nil {
			extra = append(extra, txt)
		}
	}
	return extra
}

func (e *Engine) lookupLocalA(name string) dns.RR {
	return e.lookupLocal(name, dns.TypeA)
}

func (e *Engine) lookupLocal(name string, rtype uint16) dns.RR {
	for _, l := range e.local {
		h := l.rr.Header()
		if h.Rrtype == rtype && canonicalName(h.Name) == canonicalName(name) {
			return l.rr
		}
	}
	return nil
}

// checkConflict inspects an inbound record against records this engine is
// currently probing, implementing the tie-break of RFC 6762 §8.2: a
// conflicting answer (any rdata difference once we're past probing into an
// authoritative claim) always triggers the callback; a competing probe only
// does when the peer's rdata sorts lexicographically greater than ours.
func (e *Engine) checkConflict(rr dns.RR, isProbe bool) {
	h := rr.Header()
	key := keyFor(h.Name, h.Rrtype)

	for _, l := range e.local {
		if l.key() != key {
			continue
		}
		if l.state != stateProbe1 && l.state != stateProbe2 && l.state != stateProbe3 {
			continue
		}
		if fingerprint(rr) == l.fingerprint() {
			continue
		}

		conflict := true
		if isProbe {
			conflict = fingerprint(rr) > l.fingerprint()
		}
		if !conflict {
			continue
		}

		l.state = stateDone
		l.nextSend = time.Time{}
		if l.conflict != nil {
			l.conflict(h.Name, h.Rrtype, l.arg)
		}
	}
}
