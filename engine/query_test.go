package engine

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/miekg/dns"
)

var _ = Describe("query tracker", func() {
	var (
		e   *Engine
		clk *fakeClock
	)

	BeforeEach(func() {
		clk = newFakeClock(time.Unix(0, 0))
		e = New(dns.ClassINET, 1000, UseClock(clk))
	})

	It("retransmits on a back-off schedule that doubles from 1s up to a 3600s cap", func() {
		sent := 0
		e.Query("_http._tcp.local.", dns.TypePTR, func(dns.RR, any) int {
			return QueryContinue
		}, nil)

		countOutbound := func() int {
			n := 0
			for {
				if _, _, ok := e.Out(); !ok {
					break
				}
				n++
			}
			return n
		}

		// First send happens immediately (jitter is zeroed by fakeClock).
		e.Step(clk.now)
		sent += countOutbound()
		Expect(sent).To(Equal(1))

		intervals := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
		for _, iv := range intervals {
			clk.advance(iv)
			e.Step(clk.now)
			sent += countOutbound()
		}
		Expect(sent).To(Equal(1 + len(intervals)))

		// Jump two hours ahead in one go; a single Step must then send one
		// retransmit, not a burst making up for every interval that elapsed
		// in the gap (spec.md §4.3, §8).
		clk.advance(2 * time.Hour)
		e.Step(clk.now)
		n := countOutbound()
		Expect(n).To(Equal(1), "a single retransmit should fire once the capped interval elapses, not a burst")
	})

	It("includes known answers with more than 50% remaining TTL and omits the rest", func() {
		e.store.insert(&dns.A{
			Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 100},
			A:   net.IPv4(10, 0, 0, 1),
		}, clk.now, clk)
		stale, _ := e.store.insert(&dns.A{
			Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 100},
			A:   net.IPv4(10, 0, 0, 2),
		}, clk.now, clk)
		stale.expiry = clk.now.Add(40 * time.Second) // 40% of 100s remaining

		q := &query{name: "host.local.", rtype: dns.TypeA, interval: queryInitialInterval}
		e.sendQuery(q, clk.now)

		m, _, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(m.Answer).To(HaveLen(1))
		a := m.Answer[0].(*dns.A)
		Expect(a.A.Equal(net.IPv4(10, 0, 0, 1))).To(BeTrue())
	})

	It("fires the callback once per new record and suppresses repeats of the same fingerprint", func() {
		var seen []string
		e.Query("_http._tcp.local.", dns.TypePTR, func(rr dns.RR, _ any) int {
			seen = append(seen, rr.(*dns.PTR).Ptr)
			return QueryContinue
		}, nil)

		ptr := &dns.PTR{
			Hdr: dns.RR_Header{Name: "_http._tcp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 4500},
			Ptr: "server._http._tcp.local.",
		}
		resp := new(dns.Msg)
		resp.Response = true
		resp.Answer = []dns.RR{ptr}

		Expect(e.In(resp, nil)).To(Succeed())
		Expect(e.In(resp, nil)).To(Succeed())

		Expect(seen).To(Equal([]string{"server._http._tcp.local."}))
	})

	It("matches dns.TypeANY against every type registered for a name", func() {
		q := &query{name: "host.local.", rtype: dns.TypeANY}
		Expect(q.matches(&dns.A{Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeA}})).To(BeTrue())
		Expect(q.matches(&dns.TXT{Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeTXT}})).To(BeTrue())
		Expect(q.matches(&dns.A{Hdr: dns.RR_Header{Name: "other.local.", Rrtype: dns.TypeA}})).To(BeFalse())
	})

	It("stops retransmitting once cancelled", func() {
		h := e.Query("host.local.", dns.TypeA, func(dns.RR, any) int { return QueryContinue }, nil)
		e.Step(clk.now)
		for e.drainOutq() {
		}

		e.CancelQuery(h)
		clk.advance(time.Hour)
		e.Step(clk.now)

		_, _, ok := e.Out()
		Expect(ok).To(BeFalse())
	})
})

// drainOutq discards one pending outbound packet, reporting whether there
// was one. Test helper only.
func (e *Engine) drainOutq() bool {
	_, _, ok := e.Out()
	return ok
}
