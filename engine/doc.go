// Package engine implements the mDNS (RFC 6762) and DNS-SD (RFC 6763)
// protocol engine: a single-threaded, cooperative state machine that owns a
// set of local and cached resource records, drives the probe/announce
// lifecycle, answers incoming queries, detects name conflicts and issues
// queries on a caller's behalf.
//
// The engine performs no I/O of its own. A host program reads datagrams from
// a UDP socket bound to 224.0.0.251:5353, parses each one and hands the
// message to In, drains
// outbound packets with Out, and calls Step to advance timers — the same
// split dissolve's Responder makes between its Transport and its Responder,
// except here the caller supplies the event loop instead of the package
// supplying goroutines.
package engine
