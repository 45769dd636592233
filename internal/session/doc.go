// Package session wires the sync engine together for one task: the shared
// ledger, the push subscription, the send pipeline, and the pending-send
// drain that delivers a task's queued first message exactly once even when
// the owning UI unmounts and remounts mid-bootstrap.
//
// Sessions are cheap; several may be open for the same task and will share
// one ledger through the registry. Derived projections (turn pairing, tool
// correlation) are rebuilt lazily whenever the ledger changes or a
// streaming message settles.
package session
