package engine

import (
	"time"

	"github.com/miekg/dns"
)

// cacheFlushBit is the top bit of the class field of a resource record in a
// response, signalling the receiver to evict prior (name, type) entries not
// matching this rdata (RFC 6762 §10.2).
const cacheFlushBit = 1 << 15

// quBit is the top bit of the qclass field of a question, requesting a
// unicast reply (RFC 6762 §5.4).
const quBit = 1 << 15

// ConflictFunc is invoked when a published record's probe detects another
// host already using the same (name, type) with different rdata. arg is the
// opaque value passed to Publish.
type ConflictFunc func(name string, rtype uint16, arg any)

// AnswerFunc is invoked once for every new record matching an active
// query's (name, type). Returning QueryCancel unregisters the query; any
// other value keeps it active.
type AnswerFunc func(rr dns.RR, arg any) int

// RecordFunc is the global inbound-record hook registered with OnReceive.
// It fires for every record the engine stores to cache, independent of any
// query.
type RecordFunc func(rr dns.RR, arg any)

// fingerprint returns a string uniquely identifying an RR's (name, type,
// rdata), ignoring TTL and the cache-flush/QU bits riding on the class
// field. It is used for local-record duplicate detection (invariant 1) and
// for the query tracker's known-answer snapshots.
//
// dns.Copy plus zeroing Hdr.Ttl, normalizing Hdr.Class and lowercasing
// Hdr.Name produces a value whose dns.RR.String() is stable for otherwise-
// identical records received with different TTLs, cache-flush settings, or
// owner-name letter case (spec.md §9: name comparison is always
// case-insensitive ASCII).
func fingerprint(rr dns.RR) string {
	cp := dns.Copy(rr)
	h := cp.Header()
	h.Ttl = 0
	h.Class = dns.ClassINET
	h.Name = canonicalName(h.Name)
	return cp.String()
}

// hasCacheFlush reports whether rr's header class carries the cache-flush
// bit, and returns the header class with the bit masked off.
func hasCacheFlush(rr dns.RR) (bool, uint16) {
	c := rr.Header().Class
	return c&cacheFlushBit != 0, c &^ cacheFlushBit
}

// setCacheFlush sets or clears the cache-flush bit on rr's header class.
func setCacheFlush(rr dns.RR, flush bool) {
	h := rr.Header()
	if flush {
		h.Class |= cacheFlushBit
	} else {
		h.Class &^= cacheFlushBit
	}
}

// localRecord is a resource record this engine publishes. It carries the
// probe/announce lifecycle state spec.md §3/§4.4 describe in addition to
// the RR itself.
type localRecord struct {
	rr       dns.RR
	unique   bool
	state    publishState
	conflict ConflictFunc
	arg      any

	lastSend time.Time
	nextSend time.Time

	// probesSent counts probe transmissions so tests can assert the
	// "at least three probes" invariant (spec.md §8).
	probesSent int

	// withdrawn is set once Withdraw has been called; the record is
	// removed from the store once its goodbye packet has been sent.
	withdrawn bool
}

func (l *localRecord) fingerprint() string {
	return fingerprint(l.rr)
}

func (l *localRecord) key() nameTypeKey {
	h := l.rr.Header()
	return keyFor(h.Name, h.Rrtype)
}

// LocalRecord is the opaque handle returned by Publish. Callers pass it
// back to Withdraw; it carries no exported fields because spec.md's
// host-facing API treats it as an opaque record handle.
type LocalRecord struct {
	rec *localRecord
}

// cachedRecord is a resource record learned from the network.
type cachedRecord struct {
	rr     dns.RR
	arrive time.Time
	expiry time.Time

	// ttlOriginal is the TTL the record arrived with, used to compute the
	// 80/85/90/95% refresh points and the 50% known-answer-suppression
	// threshold.
	ttlOriginal uint32

	// refreshSent[i] is true once the refresh signal for
	// refreshFractions[i] has fired, so the store does not re-signal the
	// same fraction every step.
	refreshSent [len(refreshFractions)]bool

	// refreshJitter[i] is the up-to-2% random offset added to
	// refreshFractions[i] for this record, so that many cached records
	// sharing the same TTL do not all signal a refresh at the exact same
	// instant (spec.md §4.2).
	refreshJitter [len(refreshFractions)]float64
}

func (c *cachedRecord) fingerprint() string {
	return fingerprint(c.rr)
}

func (c *cachedRecord) key() nameTypeKey {
	h := c.rr.Header()
	return keyFor(h.Name, h.Rrtype)
}

// remainingFraction returns the fraction of original TTL still remaining at
// now, in [0, 1]. Used by known-answer suppression (more than 50% remaining).
func (c *cachedRecord) remainingFraction(now time.Time) float64 {
	if c.ttlOriginal == 0 {
		return 0
	}
	total := time.Duration(c.ttlOriginal) * time.Second
	remaining := c.expiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	if remaining >= total {
		return 1
	}
	return float64(remaining) / float64(total)
}
