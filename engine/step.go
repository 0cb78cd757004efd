package engine

import (
	"net"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/miekg/dns"
)

// In injects one inbound message, as the step loop's §4.5 point 1
// describes: its sections are fed into the record store, query tracker and
// publisher in that order. src is nil-safe; nil means "no known source",
// treated like a multicast-origin packet.
func (e *Engine) In(m *dns.Msg, src *net.UDPAddr) error {
	now := e.clock.Now()

	if m.Response {
		for _, rr := range m.Answer {
			e.handleInboundRecord(rr, now)
		}
		for _, rr := range m.Extra {
			e.handleInboundRecord(rr, now)
		}
		return nil
	}

	for _, rr := range m.Ns {
		e.checkConflict(rr, true)
	}

	if len(m.Question) > 0 {
		e.handleQuery(m, src, now)
	}

	return nil
}

// handleInboundRecord stores rr to cache, notifies the global receive hook,
// delivers it to matching queries, and then runs the conflict check against
// records being probed — the store/query/publisher ordering spec.md §4.5
// requires.
func (e *Engine) handleInboundRecord(rr dns.RR, now time.Time) {
	_, evicted := e.store.insert(rr, now, e.clock)
	if evicted {
		logging.Log(e.logger, "%s: evicted nearest-expiry cache entry to make room for %s", ErrTooManyRecords, rr.Header().Name)
	}

	for _, h := range e.receiveHooks {
		h.fn(rr, h.arg)
	}
	e.matchQueries(rr)
	e.checkConflict(rr, false)
}

// handleQuery answers an inbound question set, implementing unicast/legacy
// immediacy vs. multicast response aggregation (spec.md §4.4 "Response
// aggregation" and "Scheduled delay").
func (e *Engine) handleQuery(m *dns.Msg, src *net.UDPAddr, now time.Time) {
	known := make(map[string]struct{}, len(m.Answer))
	for _, rr := range m.Answer {
		known[fingerprint(rr)] = struct{}{}
	}

	legacy := src != nil && src.Port != Port
	wantsUnicast := legacy
	for _, q := range m.Question {
		if q.Qclass&quBit != 0 {
			wantsUnicast = true
		}
	}

	answers := make(map[string]dns.RR)
	extras := make(map[string]dns.RR)

	for _, q := range m.Question {
		qclass := q.Qclass &^ quBit
		if qclass != dns.ClassINET && qclass != dns.ClassANY {
			continue
		}
		for _, l := range e.local {
			h := l.rr.Header()
			if canonicalName(h.Name) != canonicalName(q.Name) {
				continue
			}
			if q.Qtype != dns.TypeANY && q.Qtype != h.Rrtype {
				continue
			}
			if !e.respondable(l) {
				continue
			}

			fp := l.fingerprint()
			if _, suppressed := known[fp]; suppressed {
				continue
			}

			rr := e.responseRR(l)
			answers[fp] = rr
			for _, extra := range e.additionalRecords(rr) {
				extras[fingerprint(extra)] = extra
			}
		}
	}

	if len(answers) == 0 {
		return
	}

	if legacy {
		e.sendResponseNow(answers, extras, m.Id, src)
		return
	}
	if wantsUnicast {
		e.sendResponseNow(answers, extras, 0, src)
		return
	}

	e.aggregateResponse(answers, extras, now)
}

// respondable reports whether l may currently appear in an answer. A
// unique record is only advertised once its lifecycle reaches the
// announced state (invariant 3); shared (non-unique) records may answer as
// soon as they exist.
func (e *Engine) respondable(l *localRecord) bool {
	if !l.unique {
		return l.state != stateDone && l.state != stateGoodbye
	}
	return l.state == stateSteady
}

// responseRR returns a copy of l's record with the cache-flush bit set
// appropriately for inclusion in a response.
func (e *Engine) responseRR(l *localRecord) dns.RR {
	rr := dns.Copy(l.rr)
	if l.unique {
		setCacheFlush(rr, true)
	}
	return rr
}

func (e *Engine) sendResponseNow(answers, extras map[string]dns.RR, id uint16, dest *net.UDPAddr) {
	m := buildResponse(answers, extras)
	m.Id = id
	if dest != nil {
		e.enqueueUnicast(m, dest)
	} else {
		e.enqueueMulticast(m)
	}
}

// aggregateResponse merges answers/extras into the single in-flight
// multicast response window, creating one if none is pending. A fresh
// inbound query arriving inside an existing window is folded into it
// rather than resetting the fire time, so a burst of queries still
// produces one packet (spec.md §4.4 response aggregation).
func (e *Engine) aggregateResponse(answers, extras map[string]dns.RR, now time.Time) {
	if e.pendingResponse == nil {
		e.pendingResponse = &pendingResponse{
			fireAt: now.Add(jitterBetween(e.clock, responseAggregationMin, responseAggregationSpan)),
			byFP:   make(map[string]dns.RR),
			extra:  make(map[string]dns.RR),
		}
	}
	for fp, rr := range answers {
		e.pendingResponse.byFP[fp] = rr
	}
	for fp, rr := range extras {
		e.pendingResponse.extra[fp] = rr
	}
}

func buildResponse(answers, extras map[string]dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.Response = true
	m.Authoritative = true
	for _, rr := range answers {
		m.Answer = append(m.Answer, rr)
	}
	for _, rr := range extras {
		m.Extra = append(m.Extra, rr)
	}
	return m
}

// Step advances the engine's timers to now and returns the duration until
// the next scheduled action (spec.md §4.5). It performs no I/O.
func (e *Engine) Step(now time.Time) time.Duration {
	var nextWake time.Time

	if e.pendingResponse != nil && !now.Before(e.pendingResponse.fireAt) {
		e.sendResponseNow(e.pendingResponse.byFP, e.pendingResponse.extra, 0, nil)
		e.pendingResponse = nil
	}
	if e.pendingResponse != nil {
		nextWake = earliest(nextWake, e.pendingResponse.fireAt)
	}

	for _, expired := range e.store.expire(now) {
		e.matchExpiry(expired)
	}

	for _, due := range e.store.dueRefresh(now) {
		e.reissueRefresh(due, now)
	}

	nextWake = earliest(nextWake, e.advancePublishers(now))
	nextWake = earliest(nextWake, e.advanceQueries(now))
	nextWake = earliest(nextWake, e.store.nextExpiry())

	if nextWake.IsZero() {
		return 0
	}
	if d := nextWake.Sub(now); d > 0 {
		return d
	}
	return 0
}

// matchExpiry notifies any active query watching an expired cached
// record's (name, type) by removing it from that query's reported set, so
// a later re-announcement is delivered again as new.
func (e *Engine) matchExpiry(c *cachedRecord) {
	fp := c.fingerprint()
	for _, q := range e.queries {
		delete(q.reported, fp)
	}
	logging.DebugString(e.logger, "cache record expired")
}

// reissueRefresh issues an immediate refresh query for a cached record
// approaching expiry, so it does not lapse while still in use (spec.md
// §4.2/§4.3).
func (e *Engine) reissueRefresh(c *cachedRecord, now time.Time) {
	h := c.rr.Header()
	for _, q := range e.queries {
		if q.matches(c.rr) {
			// An existing query already covers this record; its
			// own back-off schedule will refresh it.
			return
		}
	}
	q := &query{
		name:     h.Name,
		rtype:    h.Rrtype,
		nextSend: now,
		interval: queryInitialInterval,
		reported: make(map[string]struct{}),
	}
	e.queries = append(e.queries, q)
}

// Sleep is a pure query: how long until anything needs to happen, without
// mutating any state (spec.md §6's engine_sleep).
func (e *Engine) Sleep(now time.Time) time.Duration {
	var nextWake time.Time

	if e.pendingResponse != nil {
		nextWake = earliest(nextWake, e.pendingResponse.fireAt)
	}
	for _, l := range e.local {
		if !l.nextSend.IsZero() {
			nextWake = earliest(nextWake, l.nextSend)
		}
	}
	for _, q := range e.queries {
		nextWake = earliest(nextWake, q.nextSend)
	}
	nextWake = earliest(nextWake, e.store.nextExpiry())

	if nextWake.IsZero() {
		return 0
	}
	if d := nextWake.Sub(now); d > 0 {
		return d
	}
	return 0
}
