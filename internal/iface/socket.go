// Package iface owns the one piece of I/O plumbing spec.md explicitly
// excludes from the engine itself: opening the IPv4 multicast socket,
// joining the mDNS group on a set of interfaces, and polling for interface
// address changes. It is the adaptation of dissolve's
// mdns/transport.IPv4Transport into a thinner, dodeca-logged socket that
// feeds bytes to an engine.Engine rather than to dissolve's own Responder.
package iface

import (
	"fmt"
	"net"

	"github.com/dogmatiq/dodeca/logging"
	ipv4x "golang.org/x/net/ipv4"
)

// Group is the mDNS link-local multicast group (RFC 6762 §3), duplicated
// from engine.MulticastGroup to avoid an import cycle concern even though
// none currently exists; kept as its own constant because this package
// models the socket, not the protocol.
var Group = net.ParseIP("224.0.0.251")

// GroupAddress is the UDP destination used for outbound multicast traffic.
func GroupAddress(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: Group, Port: port}
}

// listenAddress binds the shared multicast address rather than the group
// itself, so the caller precisely controls which interfaces join via
// JoinGroup instead of the kernel picking one (mirrors
// transport.IPv4ListenAddress).
func listenAddress(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: port}
}

// Socket is an IPv4 mDNS multicast UDP socket bound to one or more network
// interfaces.
type Socket struct {
	pc     *ipv4x.PacketConn
	port   int
	logger logging.Logger
}

// Listen opens the multicast socket on port and joins the mDNS group on
// every interface in ifaces. At least one interface must successfully join
// for Listen to succeed (mirrors transport.joinGroup's "no interfaces
// joined" failure).
func Listen(port int, ttl int, ifaces []net.Interface, logger logging.Logger) (*Socket, error) {
	addr := listenAddress(port)
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		logging.Log(logger, "unable to listen for mDNS requests on %s: %s", addr, err)
		return nil, err
	}

	pc := ipv4x.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4x.FlagInterface, true); err != nil {
		conn.Close()
		return nil, err
	}
	if ttl > 0 {
		if err := pc.SetMulticastTTL(ttl); err != nil {
			conn.Close()
			return nil, err
		}
	}

	joined, err := joinGroup(pc, ifaces, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logging.Log(logger, "listening for mDNS requests on %s (%s)", addr, joinedNames(joined))

	return &Socket{pc: pc, port: port, logger: logger}, nil
}

func joinGroup(pc *ipv4x.PacketConn, ifaces []net.Interface, logger logging.Logger) ([]net.Interface, error) {
	groupAddr := &net.UDPAddr{IP: Group}
	joined := make([]net.Interface, 0, len(ifaces))

	for i := range ifaces {
		iface := ifaces[i]
		if err := pc.JoinGroup(&iface, groupAddr); err != nil {
			logging.Log(logger, "unable to join the '%s' multicast group on the '%s' interface: %s", Group, iface.Name, err)
			continue
		}
		joined = append(joined, iface)
	}

	if len(joined) == 0 {
		return nil, fmt.Errorf("unable to join the '%s' multicast group on any interfaces", Group)
	}
	return joined, nil
}

func joinedNames(ifaces []net.Interface) string {
	s := ""
	for i, iface := range ifaces {
		if i > 0 {
			s += ", "
		}
		s += iface.Name
	}
	return s
}

// ReadFrom reads the next inbound packet into buf, returning the number of
// bytes read and the originating address. The interface index the packet
// arrived on is discarded here because each Socket already corresponds to
// one daemon-level interface loop (spec.md §5 / §9: "one engine instance
// per interface; instances do not share state").
func (s *Socket) ReadFrom(buf []byte) (int, *net.UDPAddr, error) {
	n, _, src, err := s.pc.ReadFrom(buf)
	if err != nil {
		return 0, nil, err
	}
	udpSrc, _ := src.(*net.UDPAddr)
	return n, udpSrc, nil
}

// WriteTo sends buf to dest. dest is nil for multicast traffic, in which
// case it is sent to the group address on ifi.
func (s *Socket) WriteTo(buf []byte, ifi *net.Interface, dest *net.UDPAddr) error {
	cm := &ipv4x.ControlMessage{}
	if ifi != nil {
		cm.IfIndex = ifi.Index
	}
	if dest == nil {
		dest = GroupAddress(s.port)
	}
	_, err := s.pc.WriteTo(buf, cm, dest)
	if err != nil {
		logging.Log(s.logger, "unable to send mDNS packet to %s: %s", dest, err)
	}
	return err
}

// Close closes the underlying socket.
func (s *Socket) Close() error {
	return s.pc.Close()
}
