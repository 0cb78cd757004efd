package engine

import "errors"

// Sentinel errors surfaced by the engine's host-facing API.
//
// Parse failures encountered while processing an inbound packet are never
// returned from In: https://tools.ietf.org/html/rfc6762#section-1 describes
// mDNS as operating on an open, unauthenticated multicast group, so malformed
// or hostile input is dropped and logged rather than treated as a hard error.
var (
	// ErrTooManyRecords classifies the cache-capacity-exceeded condition
	// (spec.md §7: "Record cap exceeded... evict nearest-expiry entry,
	// insert new, log"). It is never returned to a host caller — inserting
	// a record that pushes the cache over its configured cap always
	// succeeds by evicting the nearest-expiry entry — but it is exported
	// and wrapped into the log line In emits when that eviction happens,
	// so tests and log scrapers can assert on it with errors.Is, the same
	// role ErrMalformed plays for parse failures.
	ErrTooManyRecords = errors.New("engine: record store is at capacity")

	// ErrDuplicateRecord is returned by Publish, alongside the existing
	// record's handle, when a record with the same name, type and rdata is
	// already published. Per spec the insert itself is idempotent — no
	// second record is created — but a caller that wants to distinguish
	// "newly published" from "already published" can check for this with
	// errors.Is; one that does not care may ignore the error.
	ErrDuplicateRecord = errors.New("engine: record already published")

	// ErrShutdown is returned by Publish when it is called after Shutdown.
	ErrShutdown = errors.New("engine: engine is shutting down")

	// ErrNoAddress is returned by Publish when a record requires the
	// engine's local IPv4 address (an A record with no explicit address)
	// and SetAddress has not been called.
	ErrNoAddress = errors.New("engine: local address has not been set")

	// ErrMalformed classifies an inbound packet that failed to parse. It is
	// wrapped into the error parseMessage returns; In takes an already
	// parsed message and never returns it. It is exported so tests and
	// codec-level callers can assert on it with errors.Is.
	ErrMalformed = errors.New("engine: malformed inbound packet")
)

// sentinel cancellation value returned by an AnswerFunc to unregister its
// query. It must be distinguishable from a "normal" return (spec.md §4.3);
// zero is deliberately the "keep going" value so that the large majority of
// callbacks, which never cancel, can simply fall off the end of the
// function.
const (
	// QueryContinue is returned by an AnswerFunc to keep the query active.
	QueryContinue = 0

	// QueryCancel is returned by an AnswerFunc to cancel the query. It is
	// marked cancelled before the call that delivered the answer returns,
	// receives no further answers and is not retransmitted; the tracker
	// drops it at the next Step.
	QueryCancel = 1
)
