// Package send implements the client send pipeline.
//
// In sync (blocking-stream) mode an optimistic placeholder is inserted,
// each inbound delta is run through the injected aggregator against the
// current ledger snapshot, and completion triggers an authoritative refetch
// that replaces the whole ledger. In async (fire-and-forget) mode the
// dispatch returns immediately and the push subscription reconciles later.
// A failed send leaves the optimistic entry visible, marked failed: never
// silently removed, and never retried implicitly.
package send
