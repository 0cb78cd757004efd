// Command mquery is a one-shot/continuous mDNS lookup tool, grounded on
// mquery.c: by default it recursively browses DNS-SD PTR records (each
// answer triggers a follow-up query for its target), or with -s prints
// every answer of any type as it arrives.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/miekg/dns"

	"github.com/dnsoverlan/mdnsd/engine"
	"github.com/dnsoverlan/mdnsd/internal/iface"
)

const defaultName = "_services._dns-sd._udp.local."

func main() {
	var (
		ifaceName = flag.String("i", "", "interface to query on")
		simple    = flag.Bool("s", false, "print every answer instead of recursively browsing PTR records")
		qtype     = flag.Int("t", int(dns.TypePTR), "query type")
		wait      = flag.Int("w", 0, "stop after this many seconds (0: run forever)")
	)
	flag.Parse()

	name := defaultName
	if flag.NArg() > 0 {
		name = dns.Fqdn(flag.Arg(0))
	}

	if err := run(*ifaceName, name, uint16(*qtype), *simple, time.Duration(*wait)*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "mquery: %s\n", err)
		os.Exit(1)
	}
}

func run(ifaceName, name string, qtype uint16, simple bool, wait time.Duration) error {
	ifaces, err := iface.Multicast(ifaceName)
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		return fmt.Errorf("no usable multicast interfaces found")
	}

	logger := logging.DefaultLogger
	sock, err := iface.Listen(engine.Port, 1, ifaces, logger)
	if err != nil {
		return err
	}
	defer sock.Close()

	eng := engine.New(dns.ClassINET, 1000, engine.UseLogger(logger))

	b := &browser{eng: eng, simple: simple}
	eng.Query(name, qtype, b.onAnswer, nil)

	fmt.Printf("Querying for %s type %d ... press Ctrl-C to stop\n", name, qtype)

	deadline := time.Time{}
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}

	inbound := make(chan inboundMsg, 32)
	go readLoop(sock, inbound)

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}

		next := eng.Sleep(time.Now())
		timer := time.NewTimer(next)

		select {
		case in := <-inbound:
			timer.Stop()
			_ = eng.In(in.msg, in.src)
			drainOutbound(eng, sock, ifaces)

		case <-timer.C:
			eng.Step(time.Now())
			drainOutbound(eng, sock, ifaces)
		}
	}
}

// browser implements mquery.c's default recursive PTR-browse mode: follow
// each PTR answer's target with a fresh query, or print every answer
// directly when running in simple mode.
type browser struct {
	eng    *engine.Engine
	simple bool
}

func (b *browser) onAnswer(rr dns.RR, arg any) int {
	if b.simple {
		printAnswer(rr)
		return engine.QueryContinue
	}

	ptr, ok := rr.(*dns.PTR)
	if !ok {
		return engine.QueryContinue
	}

	fmt.Printf("+ %s\n", ptr.Ptr)
	b.eng.Query(ptr.Ptr, dns.TypeSRV, b.onAnswer, nil)
	b.eng.Query(ptr.Ptr, dns.TypeTXT, b.onAnswer, nil)
	return engine.QueryContinue
}

func printAnswer(rr dns.RR) {
	ttl := time.Duration(rr.Header().Ttl) * time.Second

	switch v := rr.(type) {
	case *dns.A:
		fmt.Printf("A %s for %s to ip %s\n", v.Hdr.Name, ttl, v.A)
	case *dns.PTR:
		fmt.Printf("PTR %s for %s to %s\n", v.Hdr.Name, ttl, v.Ptr)
	case *dns.SRV:
		fmt.Printf("SRV %s for %s to %s:%d\n", v.Hdr.Name, ttl, v.Target, v.Port)
	default:
		fmt.Printf("%s %s for %s\n", dns.TypeToString[rr.Header().Rrtype], rr.Header().Name, ttl)
	}
}

type inboundMsg struct {
	msg *dns.Msg
	src *net.UDPAddr
}

func readLoop(sock *iface.Socket, out chan<- inboundMsg) {
	for {
		buf := iface.GetBuffer()
		n, src, err := sock.ReadFrom(buf)
		if err != nil {
			iface.PutBuffer(buf)
			return
		}

		m := new(dns.Msg)
		if err := m.Unpack(buf[:n]); err != nil {
			iface.PutBuffer(buf)
			continue
		}
		iface.PutBuffer(buf)
		out <- inboundMsg{msg: m, src: src}
	}
}

func drainOutbound(eng *engine.Engine, sock *iface.Socket, ifaces []net.Interface) {
	for {
		m, dest, ok := eng.Out()
		if !ok {
			return
		}
		buf, err := m.Pack()
		if err != nil {
			continue
		}
		sock.WriteTo(buf, &ifaces[0], dest)
	}
}
