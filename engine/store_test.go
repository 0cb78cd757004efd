package engine

import (
	"fmt"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/miekg/dns"
)

func aRecord(name string, ttl uint32, ip net.IP) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   ip,
	}
}

var _ = Describe("store", func() {
	var (
		s   *store
		clk *fakeClock
	)

	BeforeEach(func() {
		s = newStore(1000)
		clk = newFakeClock(time.Unix(0, 0))
	})

	It("expires a cached record exactly at arrival+TTL (invariant: expiry monotone in arrival time)", func() {
		rr := aRecord("host.local.", 120, net.IPv4(10, 0, 0, 1))
		s.insert(rr, clk.now, clk)

		Expect(s.expire(clk.now.Add(119 * time.Second))).To(BeEmpty())
		Expect(s.expire(clk.now.Add(120 * time.Second))).To(HaveLen(1))
	})

	It("resets expiry but preserves seen flags when the same record arrives again without the flush bit", func() {
		rr := aRecord("host.local.", 120, net.IPv4(10, 0, 0, 1))
		c, _ := s.insert(rr, clk.now, clk)
		c.refreshSent[0] = true

		clk.advance(10 * time.Second)
		refreshed, _ := s.insert(rr, clk.now, clk)

		Expect(refreshed).To(BeIdenticalTo(c))
		Expect(refreshed.refreshSent[0]).To(BeTrue(), "seen flags must survive a non-flush refresh")
		Expect(refreshed.expiry).To(Equal(clk.now.Add(120 * time.Second)))
	})

	It("clears seen flags when a fresh cache-flush replaces the prior entry's bookkeeping", func() {
		rr := aRecord("host.local.", 120, net.IPv4(10, 0, 0, 1))
		setCacheFlush(rr, true)
		c, _ := s.insert(rr, clk.now, clk)
		c.refreshSent[0] = true

		clk.advance(5 * time.Second)
		refreshed, _ := s.insert(rr, clk.now, clk)
		Expect(refreshed.refreshSent[0]).To(BeFalse())
	})

	It("evicts prior entries for (name,type) not matching the new rdata when the cache-flush bit is set", func() {
		old := aRecord("inst._http._tcp.local.", 120, net.IPv4(10, 0, 0, 1))
		s.insert(old, clk.now, clk)

		fresh := aRecord("inst._http._tcp.local.", 120, net.IPv4(10, 0, 0, 2))
		setCacheFlush(fresh, true)
		s.insert(fresh, clk.now, clk)

		got := s.lookup("inst._http._tcp.local.", dns.TypeA)
		Expect(got).To(HaveLen(1))
		Expect(got[0].rr.(*dns.A).A.Equal(net.IPv4(10, 0, 0, 2))).To(BeTrue())
	})

	It("schedules a 1-second deferred expiry for a TTL=0 goodbye instead of expiring immediately", func() {
		rr := aRecord("host.local.", 120, net.IPv4(10, 0, 0, 1))
		s.insert(rr, clk.now, clk)

		goodbye := aRecord("host.local.", 0, net.IPv4(10, 0, 0, 1))
		s.insert(goodbye, clk.now, clk)

		Expect(s.expire(clk.now)).To(BeEmpty(), "goodbye must not expire immediately")
		Expect(s.expire(clk.now.Add(time.Second))).To(HaveLen(1))
	})

	It("evicts the nearest-expiry record when inserting beyond the configured cap", func() {
		small := newStore(1000)
		for i := 0; i < 1000; i++ {
			name := fmt.Sprintf("rec%d.local.", i)
			rr := aRecord(name, uint32(1000+i), net.IPv4(10, 0, byte(i/256), byte(i%256)))
			small.insert(rr, clk.now, clk)
		}
		Expect(small.count).To(Equal(1000))

		// rec0 has the smallest TTL (1000s) and therefore the nearest
		// expiry of the first 1000 entries; the 1001st insert must evict
		// it to stay at the cap (spec.md §4.2, scenario 4).
		overflow := aRecord("rec1000.local.", 5000, net.IPv4(10, 1, 0, 1))
		small.insert(overflow, clk.now, clk)

		Expect(small.count).To(Equal(1000))
		Expect(small.lookup("rec0.local.", dns.TypeA)).To(BeEmpty())
		Expect(small.lookup("rec1000.local.", dns.TypeA)).To(HaveLen(1))
	})

	It("returns every type for a name on an ANY lookup", func() {
		s.insert(aRecord("host.local.", 120, net.IPv4(10, 0, 0, 1)), clk.now, clk)
		s.insert(&dns.TXT{
			Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 120},
			Txt: []string{"a=1"},
		}, clk.now, clk)

		Expect(s.lookup("host.local.", dns.TypeANY)).To(HaveLen(2))
	})

	It("signals a refresh exactly once per crossed TTL fraction", func() {
		rr := aRecord("host.local.", 100, net.IPv4(10, 0, 0, 1))
		s.insert(rr, clk.now, clk)

		clk.advance(81 * time.Second)
		due := s.dueRefresh(clk.now)
		Expect(due).To(HaveLen(1))

		// Re-checking at the same age must not re-signal the 80% point.
		Expect(s.dueRefresh(clk.now)).To(BeEmpty())

		clk.advance(5 * time.Second) // crosses 85%
		Expect(s.dueRefresh(clk.now)).To(HaveLen(1))
	})
})
