// Package ledger maintains the per-task message view merged from three
// asynchronous producers: cursor-paginated history fetches, push-delivered
// snapshots, and locally-originated sends.
//
// # Pages
//
// History arrives as cursor-bounded pages, newest page first, each page's
// messages newest-first. Messages() flattens and reverses to chronological.
// No message id ever appears in more than one page; a duplicate arrival
// updates mutable fields in place without moving the entry.
//
// # Snapshot merges
//
// Push snapshots merge into page zero only. Ids already paginated into
// older pages are dropped: a snapshot carries no pagination metadata and
// must never be treated as authoritative for cursor state. Before the first
// explicit fetch the reconciler performs no merge at all.
//
// # Sharing
//
// Exactly one Ledger exists per task id, handed out by Registry with
// reference counting. All mutation commits as a single atomic step under
// the ledger mutex.
package ledger
