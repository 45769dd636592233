// Package dedupe guards the send pipeline against dispatching an identical
// message twice within a configurable window.
package dedupe
