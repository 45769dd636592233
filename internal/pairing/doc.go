// Package pairing derives display projections from the chronological
// ledger: user/agent turn pairs and tool-call/tool-result correlation.
// Both are pure functions over the message list and carry no state of
// their own; callers rebuild them whenever the ledger changes.
package pairing
