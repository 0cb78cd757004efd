package engine

import (
	"math/rand"
	"time"
)

// Clock abstracts wall-clock time and jitter generation so the state
// machine's timing (probe spacing, response aggregation, query back-off) can
// be driven deterministically in tests instead of sleeping in real time —
// see spec design note on jitter requiring an injectable PRNG.
//
// dissolve's mdns/time.go calls time.Now and math/rand's package-level
// source directly; this engine needs both to be swappable, so Clock plays
// the role dissolve's randT/randTBetween helpers play, but as an interface
// rather than free functions.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Jitter returns a pseudo-random duration in [0, max). It must be safe
	// to call from a single goroutine only; the engine never calls it
	// concurrently with itself.
	Jitter(max time.Duration) time.Duration
}

// systemClock is the production Clock, backed by time.Now and a
// package-private rand.Rand seeded once at construction.
type systemClock struct {
	rng *rand.Rand
}

// NewSystemClock returns a Clock backed by the real wall clock and a
// non-cryptographic PRNG seeded from seed. Two engines constructed with the
// same seed do not produce the same jitter sequence relative to each other
// unless they also observe identical call order, but a single engine's
// sequence is reproducible given the seed.
func NewSystemClock(seed int64) Clock {
	return &systemClock{rng: rand.New(rand.NewSource(seed))}
}

func (c *systemClock) Now() time.Time {
	return time.Now()
}

func (c *systemClock) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(c.rng.Int63n(int64(max)))
}

// jitterBetween returns a duration in [min, min+span) using clk's PRNG. It
// is the two-argument form of the "random Y-Z ms" phrasing used throughout
// the mDNS RFCs (response aggregation, probe retry spacing).
func jitterBetween(clk Clock, min, span time.Duration) time.Duration {
	return min + clk.Jitter(span)
}

const (
	// probeInitialJitter is the 0-250ms random delay before the first
	// probe (RFC 6762 §8.1).
	probeInitialJitter = 250 * time.Millisecond

	// probeInterval is the fixed spacing between probes 2 and 3 (RFC 6762
	// §8.1 specifies 250ms between probes).
	probeInterval = 250 * time.Millisecond

	// announceInterval is the delay between the first and second
	// unsolicited announcement (RFC 6762 §8.3).
	announceInterval = time.Second

	// responseAggregationMin and responseAggregationSpan bound the
	// 20-120ms jitter window multicast query responses are delayed by
	// (RFC 6762 §6).
	responseAggregationMin  = 20 * time.Millisecond
	responseAggregationSpan = 100 * time.Millisecond

	// queryInitialJitter bounds the <=250ms random delay before a newly
	// registered query's first transmission (RFC 6762 §5.2).
	queryInitialJitter = 250 * time.Millisecond

	// queryInitialInterval and queryMaxInterval bound the query
	// retransmit back-off (spec.md §4.3): starts at 1s, doubles, caps at
	// 3600s.
	queryInitialInterval = time.Second
	queryMaxInterval     = 3600 * time.Second

	// goodbyeSmoothing is the deferred-expiry window applied to inbound
	// TTL=0 ("goodbye") records instead of expiring them immediately
	// (RFC 6762 §10.1).
	goodbyeSmoothing = time.Second

	// MaxPacketLen is the largest outbound mDNS packet this engine will
	// produce (spec.md invariant 4).
	MaxPacketLen = 4000

	// maxInboundPacketLen is the largest inbound packet the codec will
	// attempt to parse (spec.md §4.1).
	maxInboundPacketLen = 9000

	// maxCompressionHops is a bound on name-decompression pointer chases
	// (spec.md §4.1 / §5). The codec does not read it: parseMessage leaves
	// decompression and its pointer-loop checks to miekg/dns's Unpack.
	maxCompressionHops = 256
)

// nextQueryInterval doubles cur, capping at queryMaxInterval.
func nextQueryInterval(cur time.Duration) time.Duration {
	next := cur * 2
	if next > queryMaxInterval || next <= 0 {
		return queryMaxInterval
	}
	return next
}

// refreshFractions are the fractions of a cached record's TTL at which the
// store signals that a refresh query should be issued (spec.md §4.2).
var refreshFractions = [...]float64{0.80, 0.85, 0.90, 0.95}

// refreshJitterFraction is the up-to-2% random jitter applied to each
// refresh fraction (spec.md §4.2).
const refreshJitterFraction = 0.02

// refreshJitterScale is an arbitrarily large duration used as the jitter
// ceiling passed to Clock.Jitter so refreshJitterOffset can recover a
// fractional result with reasonable precision from an integer-nanosecond
// random draw.
const refreshJitterScale = time.Hour

// refreshJitterOffset returns a pseudo-random value in [0, refreshJitterFraction)
// using clk's PRNG, for nudging a cache refresh fraction boundary so that
// many engines observing the same TTL do not all refresh in lockstep
// (spec.md §4.2).
func refreshJitterOffset(clk Clock) float64 {
	draw := clk.Jitter(refreshJitterScale)
	return refreshJitterFraction * (float64(draw) / float64(refreshJitterScale))
}
