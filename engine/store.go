package engine

import (
	"time"

	"github.com/miekg/dns"
)

// store holds the cached (remote) record table described by spec.md §4.2:
// an index by (name, type) plus a secondary index by name alone to serve
// ANY-type lookups, a global capacity cap, and the TTL bookkeeping that
// drives expiry and refresh-query scheduling.
//
// The local record table is small enough in practice (a handful of records
// per interface) that Engine scans it directly rather than carrying a
// second indexed structure; store.go is reserved for the cache, which is
// the table spec.md's 1000-record cap and refresh-fraction scheduling
// actually govern.
type store struct {
	maxRecords int
	byKey      map[nameTypeKey][]*cachedRecord
	byName     map[string][]nameTypeKey
	count      int
}

func newStore(maxRecords int) *store {
	return &store{
		maxRecords: maxRecords,
		byKey:      make(map[nameTypeKey][]*cachedRecord),
		byName:     make(map[string][]nameTypeKey),
	}
}

func (s *store) addIndex(k nameTypeKey) {
	for _, existing := range s.byName[k.name] {
		if existing == k {
			return
		}
	}
	s.byName[k.name] = append(s.byName[k.name], k)
}

// insert inserts rr as learned from the network at arrive. It implements
// the cache-flush eviction rule, goodbye (TTL=0) smoothing, and the
// nearest-expiry eviction under the capacity cap (spec.md §4.2, invariant
// 2). evicted reports whether an unrelated entry had to be evicted to make
// room for rr (spec.md §7: "Record cap exceeded... evict nearest-expiry
// entry, insert new, log").
func (s *store) insert(rr dns.RR, arrive time.Time, clk Clock) (rec *cachedRecord, evicted bool) {
	flush, class := hasCacheFlush(rr)
	key := keyFor(rr.Header().Name, rr.Header().Rrtype)
	fp := fingerprint(rr)

	if flush {
		kept := s.byKey[key][:0]
		for _, c := range s.byKey[key] {
			if c.fingerprint() == fp {
				kept = append(kept, c)
				continue
			}
			s.count--
		}
		s.byKey[key] = kept
	}

	for _, c := range s.byKey[key] {
		if c.fingerprint() == fp {
			// Refresh: reset expiry, preserve seen flags unless this
			// insert carried the cache-flush bit (invariant 2), in
			// which case every surviving entry for the key is this
			// one and treating it as brand new is correct.
			ttl := rr.Header().Ttl
			if ttl == 0 {
				c.expiry = arrive.Add(goodbyeSmoothing)
			} else {
				c.expiry = arrive.Add(time.Duration(ttl) * time.Second)
				c.ttlOriginal = ttl
				if flush {
					c.refreshSent = [len(refreshFractions)]bool{}
					c.refreshJitter = newRefreshJitter(clk)
				}
			}
			c.arrive = arrive
			return c, false
		}
	}

	evicted = s.evictForCapacity()

	stored := dns.Copy(rr)
	stored.Header().Class = class
	c := &cachedRecord{rr: stored, arrive: arrive, refreshJitter: newRefreshJitter(clk)}
	ttl := rr.Header().Ttl
	if ttl == 0 {
		c.expiry = arrive.Add(goodbyeSmoothing)
		c.ttlOriginal = 0
	} else {
		c.expiry = arrive.Add(time.Duration(ttl) * time.Second)
		c.ttlOriginal = ttl
	}

	s.byKey[key] = append(s.byKey[key], c)
	s.addIndex(key)
	s.count++
	return c, evicted
}

// evictForCapacity removes the entry with the nearest expiry across the
// whole cache when at capacity (spec.md §4.2), reporting whether it had to
// evict anything.
func (s *store) evictForCapacity() bool {
	if s.count < s.maxRecords {
		return false
	}

	var (
		victimKey nameTypeKey
		victim    *cachedRecord
		victimIdx int
	)
	for k, list := range s.byKey {
		for i, c := range list {
			if victim == nil || c.expiry.Before(victim.expiry) {
				victim, victimKey, victimIdx = c, k, i
			}
		}
	}
	if victim == nil {
		return false
	}
	list := s.byKey[victimKey]
	s.byKey[victimKey] = append(list[:victimIdx], list[victimIdx+1:]...)
	s.count--
	return true
}

// lookup returns cached records matching (name, type) exactly, or, when
// rtype is dns.TypeANY, every record for name regardless of type (spec.md
// §4.2).
func (s *store) lookup(name string, rtype uint16) []*cachedRecord {
	if rtype == dns.TypeANY {
		return s.lookupAny(name)
	}
	return s.byKey[keyFor(name, rtype)]
}

func (s *store) lookupAny(name string) []*cachedRecord {
	var out []*cachedRecord
	for _, k := range s.byName[canonicalName(name)] {
		out = append(out, s.byKey[k]...)
	}
	return out
}

// expire removes and returns every cached record whose expiry has passed.
func (s *store) expire(now time.Time) []*cachedRecord {
	var expired []*cachedRecord
	for k, list := range s.byKey {
		kept := list[:0]
		for _, c := range list {
			if !now.Before(c.expiry) {
				expired = append(expired, c)
				s.count--
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(s.byKey, k)
		} else {
			s.byKey[k] = kept
		}
	}
	return expired
}

// newRefreshJitter draws the per-fraction jitter offsets for a freshly
// (re)scheduled cached record (spec.md §4.2).
func newRefreshJitter(clk Clock) [len(refreshFractions)]float64 {
	var j [len(refreshFractions)]float64
	for i := range j {
		j[i] = refreshJitterOffset(clk)
	}
	return j
}

// dueRefresh returns cached records that have just crossed one of the
// 80/85/90/95% TTL refresh fractions, each nudged by that record's own
// up-to-2% jitter offset so records sharing a TTL do not all signal a
// refresh in the same instant (spec.md §4.2), and marks that fraction as
// signalled so it only fires once.
func (s *store) dueRefresh(now time.Time) []*cachedRecord {
	var due []*cachedRecord
	for _, list := range s.byKey {
		for _, c := range list {
			if c.ttlOriginal == 0 {
				continue
			}
			age := now.Sub(c.arrive)
			total := time.Duration(c.ttlOriginal) * time.Second
			if total <= 0 {
				continue
			}
			ageFraction := float64(age) / float64(total)
			for i, f := range refreshFractions {
				if c.refreshSent[i] {
					continue
				}
				if ageFraction >= f+c.refreshJitter[i] {
					c.refreshSent[i] = true
					due = append(due, c)
				}
			}
		}
	}
	return due
}

// nextExpiry returns the earliest expiry time across the cache, or the
// zero Time if the cache is empty.
func (s *store) nextExpiry() time.Time {
	var next time.Time
	for _, list := range s.byKey {
		for _, c := range list {
			next = earliest(next, c.expiry)
		}
	}
	return next
}
