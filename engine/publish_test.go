package engine

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/miekg/dns"
)

var _ = Describe("publisher / probe-announce engine", func() {
	var (
		e   *Engine
		clk *fakeClock
	)

	BeforeEach(func() {
		clk = newFakeClock(time.Unix(0, 0))
		e = New(dns.ClassINET, 1000, UseClock(clk))
		e.SetAddress(net.IPv4(10, 0, 0, 42))
	})

	rr := func() dns.RR {
		return &dns.A{
			Hdr: dns.RR_Header{Name: "myhost.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		}
	}

	// Scenario 1: probe three times with >=250ms spacing, then announce
	// twice, and only answer queries once Steady.
	It("probes three times before announcing twice and reaching steady", func() {
		lr, err := e.Publish(rr(), nil, nil)
		Expect(err).NotTo(HaveOccurred())

		var probeTimes []time.Time
		for i := 0; i < 3; i++ {
			probeTimes = append(probeTimes, clk.now)
			e.Step(clk.now)
			Expect(lr.rec.state).To(BeNumerically(">=", stateProbe2))
			clk.advance(probeInterval)
		}
		Expect(lr.rec.probesSent).To(Equal(3))
		for i := 1; i < len(probeTimes); i++ {
			Expect(probeTimes[i].Sub(probeTimes[i-1])).To(BeNumerically(">=", 250*time.Millisecond))
		}

		// Drain the probe packets so Out() reflects only what follows.
		for e.drainOutq() {
		}

		e.Step(clk.now) // fires Announce1
		Expect(lr.rec.state).To(Equal(stateAnnounce2))
		m, _, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(m.Response).To(BeTrue())
		Expect(m.Answer).To(HaveLen(1))

		clk.advance(announceInterval)
		e.Step(clk.now) // fires Announce2
		Expect(lr.rec.state).To(Equal(stateSteady))
		_, _, ok = e.Out()
		Expect(ok).To(BeTrue())

		// A query now gets an authoritative answer with the published TTL.
		query := new(dns.Msg)
		query.Question = []dns.Question{{Name: "myhost.local.", Qtype: dns.TypeA, Qclass: dns.ClassINET}}
		Expect(e.In(query, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 99), Port: Port})).To(Succeed())
		clk.advance(responseAggregationMin + responseAggregationSpan)
		e.Step(clk.now)

		resp, _, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(resp.Answer).To(HaveLen(1))
		a := resp.Answer[0].(*dns.A)
		Expect(a.Hdr.Ttl).To(Equal(uint32(120)))
		Expect(a.A.Equal(net.IPv4(10, 0, 0, 42))).To(BeTrue())
	})

	// Scenario 2: a conflicting response during probing fires the
	// conflict callback and halts the announcement.
	It("invokes the conflict callback and halts announcement on a probe-time conflict", func() {
		var conflicted bool
		var gotName string
		var gotType uint16

		lr, err := e.Publish(rr(), func(name string, rtype uint16, _ any) {
			conflicted = true
			gotName, gotType = name, rtype
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(lr.rec.state).To(Equal(stateProbe1))

		resp := new(dns.Msg)
		resp.Response = true
		resp.Answer = []dns.RR{&dns.A{
			Hdr: dns.RR_Header{Name: "myhost.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
			A:   net.IPv4(10, 0, 0, 99),
		}}
		Expect(e.In(resp, nil)).To(Succeed())

		Expect(conflicted).To(BeTrue())
		Expect(gotName).To(Equal("myhost.local."))
		Expect(gotType).To(Equal(dns.TypeA))
		Expect(lr.rec.state).To(Equal(stateDone))

		clk.advance(10 * time.Second)
		e.Step(clk.now)
		_, _, ok := e.Out()
		Expect(ok).To(BeFalse(), "a record removed on conflict must never announce")
	})

	It("skips probing for non-unique (shared) records and announces directly", func() {
		ptr := &dns.PTR{
			Hdr: dns.RR_Header{Name: "_services._dns-sd._udp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 4500},
			Ptr: "_http._tcp.local.",
		}
		lr, err := e.Publish(ptr, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(lr.rec.state).To(Equal(stateAnnounce1))
		Expect(lr.rec.unique).To(BeFalse())
	})

	It("sends a TTL=0 goodbye on Withdraw and then frees the record", func() {
		lr, _ := e.Publish(rr(), nil, nil)
		for i := 0; i < 3; i++ {
			e.Step(clk.now)
			clk.advance(probeInterval)
		}
		e.Step(clk.now)
		clk.advance(announceInterval)
		e.Step(clk.now) // Steady
		for e.drainOutq() {
		}

		e.Withdraw(lr)
		e.Step(clk.now)

		m, _, ok := e.Out()
		Expect(ok).To(BeTrue())
		Expect(m.Answer).To(HaveLen(1))
		Expect(m.Answer[0].Header().Ttl).To(Equal(uint32(0)))

		_, ok = e.local[e.localNextID]
		Expect(ok).To(BeFalse(), "record must be freed from the local table once its goodbye is sent")
	})

	It("is idempotent when publishing an identical (name, type, rdata) record twice", func() {
		first, err := e.Publish(rr(), nil, nil)
		Expect(err).NotTo(HaveOccurred())
		second, err := e.Publish(rr(), nil, nil)
		Expect(err).To(MatchError(ErrDuplicateRecord))
		Expect(second.rec).To(BeIdenticalTo(first.rec))
		Expect(e.local).To(HaveLen(1))
	})
})
