package engine

import (
	"fmt"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/miekg/dns"
)

// steadyRecord publishes rr and advances the fake clock through the full
// probe/announce lifecycle so it reaches Steady before the test proceeds.
func steadyRecord(e *Engine, clk *fakeClock, rr dns.RR, conflict ConflictFunc) *LocalRecord {
	lr, err := e.Publish(rr, conflict, nil)
	Expect(err).NotTo(HaveOccurred())
	for i := 0; i < 3; i++ {
		e.Step(clk.now)
		clk.advance(probeInterval)
	}
	e.Step(clk.now)
	clk.advance(announceInterval)
	e.Step(clk.now)
	for {
		if _, _, ok := e.Out(); !ok {
			break
		}
	}
	return lr
}

var _ = Describe("Engine", func() {
	var (
		e   *Engine
		clk *fakeClock
	)

	BeforeEach(func() {
		clk = newFakeClock(time.Unix(0, 0))
		e = New(dns.ClassINET, 1000, UseClock(clk))
		e.SetAddress(net.IPv4(10, 0, 0, 42))
	})

	// Scenario 6: shutdown packs every withdrawn record's goodbye into a
	// single aggregated packet, then Out reports empty.
	It("sends exactly one packet carrying every record's goodbye on Shutdown", func() {
		for _, name := range []string{"svc-a.local.", "svc-b.local."} {
			rr := &dns.A{Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120}}
			steadyRecord(e, clk, rr, nil)
		}

		e.Shutdown()
		e.Step(clk.now)

		m, _, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(m.Answer).To(HaveLen(2))
		for _, rr := range m.Answer {
			Expect(rr.Header().Ttl).To(Equal(uint32(0)))
		}

		_, _, ok = e.Out()
		Expect(ok).To(BeFalse())
	})

	// Scenario 5: a response with more records than fit in one packet is
	// split across multiple Out calls, each within MaxPacketLen, none
	// silently dropped.
	It("splits an oversized response across multiple Out calls", func() {
		const n = 200
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("inst%03d._http._tcp.local.", i)
			rr := &dns.PTR{
				Hdr: dns.RR_Header{Name: "_http._tcp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 4500},
				Ptr: name,
			}
			lr, err := e.Publish(rr, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			// PTR records are shared; they announce directly.
			Expect(lr.rec.unique).To(BeFalse())
		}
		e.Step(clk.now) // Announce1 for every record
		clk.advance(announceInterval)
		e.Step(clk.now) // Announce2
		for e.drainOutq() {
		}

		query := new(dns.Msg)
		query.Question = []dns.Question{{Name: "_http._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET}}
		Expect(e.In(query, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 200), Port: 9999})).To(Succeed())

		total := 0
		packets := 0
		for {
			m, _, ok := e.Out()
			if !ok {
				break
			}
			packets++
			total += len(m.Answer)
			packed, err := m.Pack()
			Expect(err).NotTo(HaveOccurred())
			Expect(len(packed)).To(BeNumerically("<=", MaxPacketLen))
		}
		Expect(total).To(Equal(n))
		Expect(packets).To(BeNumerically(">", 1), "response should not fit in a single packet")
	})

	It("answers a legacy unicast query (source port != 5353) immediately without aggregation jitter", func() {
		steadyRecord(e, clk, &dns.A{Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120}}, nil)

		query := new(dns.Msg)
		query.Id = 0xABCD
		query.Question = []dns.Question{{Name: "host.local.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
		Expect(e.In(query, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 54321})).To(Succeed())

		// No Step call: a legacy unicast response is sent on receipt, with
		// the original transaction ID echoed (spec.md §6).
		m, dest, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(m.Id).To(Equal(uint16(0xABCD)))
		Expect(dest).NotTo(BeNil())
	})

	It("rejects Publish for an A record with no explicit address before SetAddress is called", func() {
		fresh := New(dns.ClassINET, 1000, UseClock(clk))
		_, err := fresh.Publish(&dns.A{Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120}}, nil, nil)
		Expect(err).To(MatchError(ErrNoAddress))
	})

	It("refuses new publishes once shutting down", func() {
		e.Shutdown()
		_, err := e.Publish(&dns.A{Hdr: dns.RR_Header{Name: "late.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120}}, nil, nil)
		Expect(err).To(MatchError(ErrShutdown))
	})

	It("drops a malformed inbound packet without surfacing an error from the step loop", func() {
		_, err := parseMessage([]byte{0xff})
		Expect(err).To(HaveOccurred())
		// In() itself only ever receives a parsed *dns.Msg; the codec-level
		// parse failure is the only "error" surface spec.md §7 describes,
		// and it never reaches the host as anything but a dropped packet.
	})

	It("adds the SRV target's A record as an additional record when answering a PTR query (RFC 6763 §12)", func() {
		steadyRecord(e, clk, &dns.A{Hdr: dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120}}, nil)
		steadyRecord(e, clk, &dns.SRV{
			Hdr:    dns.RR_Header{Name: "inst._http._tcp.local.", Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
			Target: "host.local.",
			Port:   8080,
		}, nil)
		steadyRecord(e, clk, &dns.TXT{
			Hdr: dns.RR_Header{Name: "inst._http._tcp.local.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 4500},
			Txt: []string{"path=/"},
		}, nil)
		steadyRecord(e, clk, &dns.PTR{
			Hdr: dns.RR_Header{Name: "_http._tcp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 4500},
			Ptr: "inst._http._tcp.local.",
		}, nil)

		query := new(dns.Msg)
		query.Question = []dns.Question{{Name: "_http._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET}}
		Expect(e.In(query, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: Port})).To(Succeed())
		clk.advance(responseAggregationMin + responseAggregationSpan)
		e.Step(clk.now)

		m, _, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(m.Answer).To(HaveLen(1))

		types := map[uint16]bool{}
		for _, rr := range m.Extra {
			types[rr.Header().Rrtype] = true
		}
		Expect(types[dns.TypeSRV]).To(BeTrue())
		Expect(types[dns.TypeTXT]).To(BeTrue())
		Expect(types[dns.TypeA]).To(BeTrue())
	})
})
