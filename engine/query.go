package engine

import (
	"time"

	"github.com/miekg/dns"
)

// query is an outstanding outbound question (spec.md §4.3).
type query struct {
	name   string
	rtype  uint16
	answer AnswerFunc
	arg    any

	nextSend time.Time
	interval time.Duration

	// reported holds the fingerprints of every record already delivered
	// to answer, so a record seen again (e.g. a retransmitted
	// announcement) does not fire the callback twice (spec.md §4.3,
	// scenario 3).
	reported map[string]struct{}

	cancelled bool
}

func (q *query) key() nameTypeKey {
	return keyFor(q.name, q.rtype)
}

// matches reports whether rr answers this query's question, including the
// ANY wildcard (spec.md §4.3: "type == ANY matching everything for that
// name").
func (q *query) matches(rr dns.RR) bool {
	h := rr.Header()
	if canonicalName(h.Name) != canonicalName(q.name) {
		return false
	}
	return q.rtype == dns.TypeANY || q.rtype == h.Rrtype
}

// Query is the opaque handle returned by Engine.Query. Pass it to
// CancelQuery to unregister.
type Query struct {
	q *query
}

// registerQuery registers a new outstanding question, scheduling its first
// transmission after the <=250ms initial jitter (RFC 6762 §5.2).
func (e *Engine) registerQuery(name string, rtype uint16, answer AnswerFunc, arg any, now time.Time) *Query {
	q := &query{
		name:     name,
		rtype:    rtype,
		answer:   answer,
		arg:      arg,
		nextSend: now.Add(e.clock.Jitter(queryInitialJitter)),
		interval: queryInitialInterval,
		reported: make(map[string]struct{}),
	}
	e.queries = append(e.queries, q)
	return &Query{q: q}
}

func (e *Engine) cancelQuery(h *Query) {
	if h == nil || h.q == nil {
		return
	}
	h.q.cancelled = true
}

// advanceQueries transmits every query whose nextSend has arrived, doubling
// its back-off interval up to the 3600s cap, and returns the earliest
// pending nextSend among the queries that remain (spec.md §4.3).
func (e *Engine) advanceQueries(now time.Time) time.Time {
	var nextWake time.Time

	live := e.queries[:0]
	for _, q := range e.queries {
		if q.cancelled {
			continue
		}
		if now.Before(q.nextSend) {
			live = append(live, q)
			nextWake = earliest(nextWake, q.nextSend)
			continue
		}

		e.sendQuery(q, now)
		q.nextSend = now.Add(q.interval)
		q.interval = nextQueryInterval(q.interval)

		live = append(live, q)
		nextWake = earliest(nextWake, q.nextSend)
	}
	e.queries = live

	return nextWake
}

// sendQuery enqueues q's question along with the known-answer section:
// every cached record matching (name, type) whose remaining TTL exceeds
// 50% of its original TTL (spec.md §4.3).
func (e *Engine) sendQuery(q *query, now time.Time) {
	m := new(dns.Msg)
	m.Id = 0
	m.Question = []dns.Question{{
		Name:   dns.Fqdn(q.name),
		Qtype:  q.rtype,
		Qclass: dns.ClassINET,
	}}

	for _, c := range e.store.lookup(q.name, q.rtype) {
		if c.remainingFraction(now) > 0.5 {
			m.Answer = append(m.Answer, dns.Copy(c.rr))
		}
	}

	e.enqueueMulticast(m)
}

// matchQueries fires the callback of every active query rr answers, unless
// rr's fingerprint has already been reported to that query (spec.md §4.3).
func (e *Engine) matchQueries(rr dns.RR) {
	fp := fingerprint(rr)
	for _, q := range e.queries {
		if q.cancelled || !q.matches(rr) {
			continue
		}
		if _, seen := q.reported[fp]; seen {
			continue
		}
		q.reported[fp] = struct{}{}

		if q.answer == nil {
			continue
		}
		if q.answer(rr, q.arg) == QueryCancel {
			q.cancelled = true
		}
	}
}
