// Package transport defines the collaborator boundary the sync engine
// consumes: historical page listing, the push subscription, and the two
// send RPC shapes. The engine never talks to the network directly; it is
// handed implementations of these interfaces.
//
// The package also ships the default websocket subscription adapter and a
// bearer token source. Retry and backoff are owned here; the engine only
// consumes the tri-state connection status (ready/reconnecting/disconnected).
package transport
