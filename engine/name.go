package engine

import "strings"

// canonicalName lowercases n for use as a map key or comparison operand.
// RFC 6762 §16 requires case-insensitive ASCII name comparison; the engine
// stores the canonical form alongside whatever case the original record
// used for display, matching names.FQDN.Canonical's contract.
func canonicalName(n string) string {
	return strings.ToLower(n)
}

// nameTypeKey indexes both the local and cache record tables. Multiple
// records may share (name, type) — e.g. several PTR records under the same
// service-enumeration pointer (spec.md §4.2).
type nameTypeKey struct {
	name  string // canonical (lowercased)
	rtype uint16
}

func keyFor(name string, rtype uint16) nameTypeKey {
	return nameTypeKey{name: canonicalName(name), rtype: rtype}
}
