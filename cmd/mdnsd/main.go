// Command mdnsd is an mDNS/DNS-SD responder daemon: the host program that
// plays the "external collaborator" role spec.md §1 carves out of the
// protocol engine — socket I/O, interface enumeration, .service config
// loading and signal handling — wired around one engine.Engine per
// interface, matching mdnsd.c's one-iface-per-struct-iface model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/dnsoverlan/mdnsd/engine"
	"github.com/dnsoverlan/mdnsd/internal/config"
	"github.com/dnsoverlan/mdnsd/internal/iface"
)

func main() {
	var (
		ifaceName = flag.String("i", "", "interface to announce services on, and get address from")
		ttl       = flag.Int("t", 1, "TTL of mDNS packets, 1-255 (default: link-local only)")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	path := "/etc/mdns.d"
	if flag.NArg() > 0 {
		path = flag.Arg(0)
	}

	var logger logging.Logger = logging.DefaultLogger
	if *verbose {
		logger = logging.DebugLogger{Target: logger}
	}

	if err := run(*ifaceName, path, *ttl, logger); err != nil {
		logging.Log(logger, "mdnsd: %s", err)
		os.Exit(1)
	}
}

func run(ifaceName, path string, ttl int, logger logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	ifaces, err := iface.Multicast(ifaceName)
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		return fmt.Errorf("mdnsd: no usable multicast interfaces found")
	}

	g, ctx := errgroup.WithContext(ctx)
	mgr := newIfaceManager(g, path, ttl, logger)
	mgr.sync(ctx, ifaces)

	// Re-poll the host's interface list on the same cadence mdnsd.c's
	// SYS_INTERVAL drove its iface_init re-scan, tearing down the
	// per-interface engine of any interface that disappeared or changed
	// index and spinning up a fresh one for anything new (spec.md §1's
	// "interface address change detection", external to the protocol
	// engine but still owned by this daemon). All g.Go calls happen from
	// this single goroutine, strictly before the final g.Wait below, so
	// there is no concurrent Go/Wait use of the errgroup.
	ticker := time.NewTicker(iface.PollInterval)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case <-ticker.C:
			next, err := iface.Multicast(ifaceName)
			if err != nil {
				logging.Log(logger, "mdnsd: unable to re-enumerate interfaces: %s", err)
				continue
			}
			if iface.Changed(ifaces, next) {
				logging.Log(logger, "mdnsd: interface set changed, rebuilding per-interface engines")
				mgr.sync(ctx, next)
				ifaces = next
			}
		}
	}

	return g.Wait()
}

// ifaceManager owns the set of currently-running per-interface goroutines,
// keyed by interface name, so sync can diff the host's current interface
// list against what is already running and cancel or start goroutines for
// the difference only.
type ifaceManager struct {
	g      *errgroup.Group
	path   string
	ttl    int
	logger logging.Logger

	running map[string]ifaceHandle
}

type ifaceHandle struct {
	index  int
	cancel context.CancelFunc
}

func newIfaceManager(g *errgroup.Group, path string, ttl int, logger logging.Logger) *ifaceManager {
	return &ifaceManager{
		g:       g,
		path:    path,
		ttl:     ttl,
		logger:  logger,
		running: make(map[string]ifaceHandle),
	}
}

// sync reconciles the set of running interface goroutines against want,
// stopping anything removed or re-indexed and starting a fresh
// engine.Engine goroutine for anything new.
func (m *ifaceManager) sync(ctx context.Context, want []net.Interface) {
	wantByName := make(map[string]net.Interface, len(want))
	for _, ifc := range want {
		wantByName[ifc.Name] = ifc
	}

	for name, h := range m.running {
		ifc, ok := wantByName[name]
		if !ok || ifc.Index != h.index {
			h.cancel()
			delete(m.running, name)
		}
	}

	for name, ifc := range wantByName {
		if _, ok := m.running[name]; ok {
			continue
		}
		ifc := ifc
		childCtx, cancel := context.WithCancel(ctx)
		m.running[name] = ifaceHandle{index: ifc.Index, cancel: cancel}
		m.g.Go(func() error {
			return runInterface(childCtx, ifc, m.path, m.ttl, m.logger)
		})
	}
}

// inboundMsg is a parsed packet handed from the socket-reading goroutine to
// the interface's single engine-owning goroutine, so every call into
// engine.Engine happens from one goroutine as the engine package requires.
type inboundMsg struct {
	msg *dns.Msg
	src *net.UDPAddr
}

// runInterface drives one engine.Engine bound to a single interface, the
// unit of isolation spec.md §5/§9 requires ("one engine instance per
// interface; instances do not share state"). Exactly one goroutine — this
// one — ever calls into eng; readLoop only parses packets off the wire.
func runInterface(ctx context.Context, ifc net.Interface, path string, ttl int, logger logging.Logger) error {
	addr, ok := iface.Address(ifc)
	if !ok {
		return fmt.Errorf("mdnsd: interface %s has no IPv4 address", ifc.Name)
	}

	sock, err := iface.Listen(engine.Port, ttl, []net.Interface{ifc}, logger)
	if err != nil {
		return err
	}
	defer sock.Close()

	eng := engine.New(dns.ClassINET, 1000, engine.UseLogger(logger))
	eng.SetAddress(addr)

	h := &hostRecord{eng: eng, ifaceName: ifc.Name, addr: addr}
	h.publish()

	reload := func() {
		loadServices(eng, path, logger)
	}
	reload()

	watcher, err := config.Watch(path, logger)
	if err != nil {
		logging.Log(logger, "mdnsd: not watching %s for changes: %s", path, err)
	} else {
		defer watcher.Close()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	inbound := make(chan inboundMsg, 32)
	go readLoop(ctx, sock, inbound)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			eng.Shutdown()
			drainOutbound(eng, &ifc, sock)
			return nil

		case <-hup:
			reload()

		case <-watcherEvents(watcher):
			reload()

		case in := <-inbound:
			if err := eng.In(in.msg, in.src); err != nil {
				logging.DebugString(logger, "mdnsd: dropped malformed inbound packet")
			}
			drainOutbound(eng, &ifc, sock)

		case <-ticker.C:
			eng.Step(time.Now())
			drainOutbound(eng, &ifc, sock)
		}
	}
}

func watcherEvents(w *config.Watcher) <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.Events
}

// hostRecord owns the per-interface host A record (<iface>.local., or
// <iface>-<N>.local. after N collisions), mirroring mdnsd.c's conflict
// handling: a probe conflict on the hostname bumps a numeric suffix and
// republishes rather than giving up.
type hostRecord struct {
	eng       *engine.Engine
	ifaceName string
	addr      net.IP
	suffix    int32
}

func (h *hostRecord) publish() {
	n := atomic.LoadInt32(&h.suffix)
	name := h.name(n)
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		A:   h.addr,
	}
	// Publish errors here mean the engine has been shut down; ignore, the
	// interface goroutine is already unwinding in that case.
	_, _ = h.eng.Publish(rr, h.onConflict, nil)
}

func (h *hostRecord) onConflict(name string, rtype uint16, arg any) {
	atomic.AddInt32(&h.suffix, 1)
	h.publish()
}

func (h *hostRecord) name(n int32) string {
	if n == 0 {
		return h.ifaceName + ".local."
	}
	return fmt.Sprintf("%s-%d.local.", h.ifaceName, n)
}

func loadServices(eng *engine.Engine, path string, logger logging.Logger) {
	records, err := config.ReadDir(path)
	if err != nil {
		logging.Log(logger, "mdnsd: unable to read %s: %s", path, err)
		return
	}
	for _, r := range records {
		rr, err := r.RR()
		if err != nil {
			logging.Log(logger, "mdnsd: skipping invalid record: %s", err)
			continue
		}
		if _, err := eng.Publish(rr, nil, nil); err != nil && !errors.Is(err, engine.ErrDuplicateRecord) {
			logging.Log(logger, "mdnsd: unable to publish %s: %s", rr, err)
		}
	}
}

// readLoop only reads and parses packets; it never touches eng, so it can
// run concurrently with the interface goroutine's Step/In/Out calls.
func readLoop(ctx context.Context, sock *iface.Socket, out chan<- inboundMsg) {
	for {
		if ctx.Err() != nil {
			return
		}
		buf := iface.GetBuffer()
		n, src, err := sock.ReadFrom(buf)
		if err != nil {
			iface.PutBuffer(buf)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		m := new(dns.Msg)
		if err := m.Unpack(buf[:n]); err != nil {
			iface.PutBuffer(buf)
			continue
		}
		iface.PutBuffer(buf)

		select {
		case out <- inboundMsg{msg: m, src: src}:
		case <-ctx.Done():
			return
		}
	}
}

func drainOutbound(eng *engine.Engine, ifc *net.Interface, sock *iface.Socket) {
	for {
		m, dest, ok := eng.Out()
		if !ok {
			return
		}
		buf, err := m.Pack()
		if err != nil {
			continue
		}
		sock.WriteTo(buf, ifc, dest)
	}
}
