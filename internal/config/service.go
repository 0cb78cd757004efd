// Package config loads ".service" files describing the resource records a
// daemon instance should publish, and reloads them when the directory
// changes. Parsing and watching this directory are explicitly out of scope
// for the protocol engine (spec.md §1), but the daemon layer still needs
// them — this package is the ambient glue, grounded on mdnsd.c's directory
// convention ("PATH to mDNS-SD .service files, default: /etc/mdns.d").
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dnsoverlan/mdnsd/names"
	"github.com/miekg/dns"
)

// defaultDomain is the domain a bare, single-label hostname is qualified
// against when a .service file gives a name with no domain suffix.
const defaultDomain = names.FQDN("local.")

// normalizeName validates raw as a DNS name using the names package
// (spec.md §9: "Store a canonical lowercased form... never reparse to
// compare") and returns it fully qualified. A bare hostname with no dots is
// parsed as a names.Host and qualified against defaultDomain; a name that
// already spans multiple labels is parsed as a names.Rel and taken as
// already relative to the zone it names.
func normalizeName(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	if !strings.Contains(raw, ".") {
		h, err := names.ParseHost(raw)
		if err != nil {
			return "", fmt.Errorf("config: invalid name %q: %w", raw, err)
		}
		return h.Qualify(defaultDomain).String(), nil
	}

	r, err := names.ParseRel(raw)
	if err != nil {
		return "", fmt.Errorf("config: invalid name %q: %w", raw, err)
	}
	return dns.Fqdn(r.String()), nil
}

// Record is one resource record parsed from a .service file: a
// "name:type:ttl:rdata" line, colon-separated with a fixed field count
// (mdnsd.c's own .service grammar is undocumented in the portion of the
// source this module was distilled from, so this is the same flat
// line-oriented shape the daemon's other config, interface names and
// flags, already uses).
type Record struct {
	Name string
	Type uint16
	TTL  uint32
	Data string
}

// ParseLine parses one non-blank, non-comment line of a .service file.
func ParseLine(line string) (Record, error) {
	fields := strings.SplitN(line, ":", 4)
	if len(fields) != 4 {
		return Record{}, fmt.Errorf("config: expected 4 colon-separated fields, got %d", len(fields))
	}

	name, err := normalizeName(fields[0])
	if err != nil {
		return Record{}, err
	}
	rtype, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(fields[1]))]
	if !ok {
		return Record{}, fmt.Errorf("config: unknown record type %q", fields[1])
	}
	ttl, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("config: invalid ttl %q: %w", fields[2], err)
	}

	return Record{
		Name: name,
		Type: rtype,
		TTL:  uint32(ttl),
		Data: strings.TrimSpace(fields[3]),
	}, nil
}

// RR converts r into a dns.RR, filling in the record types the daemon
// publishes (A, PTR, CNAME, NS, SRV, TXT — the set spec.md §3 names).
func (r Record) RR() (dns.RR, error) {
	hdr := dns.RR_Header{Name: r.Name, Rrtype: r.Type, Class: dns.ClassINET, Ttl: r.TTL}

	switch r.Type {
	case dns.TypeA:
		ip, err := parseIP4(r.Data)
		if err != nil {
			return nil, err
		}
		return &dns.A{Hdr: hdr, A: ip}, nil

	case dns.TypePTR:
		ptr, err := normalizeName(r.Data)
		if err != nil {
			return nil, err
		}
		return &dns.PTR{Hdr: hdr, Ptr: ptr}, nil

	case dns.TypeCNAME:
		target, err := normalizeName(r.Data)
		if err != nil {
			return nil, err
		}
		return &dns.CNAME{Hdr: hdr, Target: target}, nil

	case dns.TypeNS:
		ns, err := normalizeName(r.Data)
		if err != nil {
			return nil, err
		}
		return &dns.NS{Hdr: hdr, Ns: ns}, nil

	case dns.TypeSRV:
		return parseSRV(hdr, r.Data)

	case dns.TypeTXT:
		return &dns.TXT{Hdr: hdr, Txt: strings.Split(r.Data, ",")}, nil

	default:
		return nil, fmt.Errorf("config: unsupported record type %s", dns.TypeToString[r.Type])
	}
}

func parseSRV(hdr dns.RR_Header, data string) (dns.RR, error) {
	// priority,weight,port,target
	parts := strings.SplitN(data, ",", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("config: SRV rdata must be priority,weight,port,target, got %q", data)
	}
	priority, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("config: invalid SRV priority: %w", err)
	}
	weight, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("config: invalid SRV weight: %w", err)
	}
	port, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return nil, fmt.Errorf("config: invalid SRV port: %w", err)
	}
	target, err := normalizeName(parts[3])
	if err != nil {
		return nil, err
	}
	return &dns.SRV{
		Hdr:      hdr,
		Priority: uint16(priority),
		Weight:   uint16(weight),
		Port:     uint16(port),
		Target:   target,
	}, nil
}

func parseIP4(s string) (net.IP, error) {
	ip := net.ParseIP(s)
	v4 := ip.To4()
	if v4 == nil {
		return nil, fmt.Errorf("config: invalid IPv4 address %q", s)
	}
	return v4, nil
}

// ReadFile parses every record line in path, skipping blank lines and
// lines beginning with '#'.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	s := bufio.NewScanner(f)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), lineNo, err)
		}
		records = append(records, r)
	}
	return records, s.Err()
}

// ReadDir parses every ".service" file directly inside dir, matching
// mdnsd.c's directory-of-services convention.
func ReadDir(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var all []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".service") {
			continue
		}
		records, err := ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}
