package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{"valid A", "myhost.local:A:120:10.0.0.1", false},
		{"valid bare hostname", "myhost:A:120:10.0.0.1", false},
		{"invalid empty hostname", ":A:120:10.0.0.1", true},
		{"invalid leading dot name", ".myhost.local:A:120:10.0.0.1", true},
		{"valid PTR", "_http._tcp.local:PTR:4500:inst._http._tcp.local", false},
		{"valid SRV", "inst._http._tcp.local:SRV:120:0,0,8080,host.local", false},
		{"too few fields", "myhost.local:A:120", true},
		{"unknown type", "myhost.local:BOGUS:120:x", true},
		{"bad ttl", "myhost.local:A:notanumber:10.0.0.1", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseLine(c.line)
			if c.wantErr && err == nil {
				t.Fatalf("expected an error, got none")
			}
			if !c.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRecordRRBuildsTypedRecords(t *testing.T) {
	r, err := ParseLine("myhost.local:A:120:10.0.0.1")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	rr, err := r.RR()
	if err != nil {
		t.Fatalf("RR: %v", err)
	}
	a, ok := rr.(*dns.A)
	if !ok {
		t.Fatalf("expected *dns.A, got %T", rr)
	}
	if !a.A.Equal(net.IPv4(10, 0, 0, 1)) {
		t.Errorf("unexpected address: %s", a.A)
	}
	if a.Hdr.Name != "myhost.local." {
		t.Errorf("expected name to be fully qualified, got %q", a.Hdr.Name)
	}

	r, err = ParseLine("myhost:A:120:10.0.0.1")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if r.Name != "myhost.local." {
		t.Errorf("expected bare hostname to be qualified against local., got %q", r.Name)
	}

	r, err = ParseLine("inst._http._tcp.local:SRV:120:10,20,8080,host.local")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	rr, err = r.RR()
	if err != nil {
		t.Fatalf("RR: %v", err)
	}
	srv, ok := rr.(*dns.SRV)
	if !ok {
		t.Fatalf("expected *dns.SRV, got %T", rr)
	}
	if srv.Priority != 10 || srv.Weight != 20 || srv.Port != 8080 || srv.Target != "host.local." {
		t.Errorf("unexpected SRV fields: %+v", srv)
	}
}

func TestReadDirSkipsNonServiceFiles(t *testing.T) {
	dir := t.TempDir()

	mustWrite(t, filepath.Join(dir, "a.service"), "a.local:A:120:10.0.0.1\n# comment\n\nb.local:A:120:10.0.0.2\n")
	mustWrite(t, filepath.Join(dir, "ignored.txt"), "c.local:A:120:10.0.0.3\n")

	records, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records from the single .service file, got %d", len(records))
	}
}

func mustWrite(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}
