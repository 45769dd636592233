// Package sendlock serializes delivery of a task's queued first message.
//
// A task created with an attached message may have its live context (push
// subscription, agent roster) still bootstrapping when the UI that queued
// the message mounts, or unmounts and remounts mid-flight. The lock
// guarantees exactly one bootstrap sequence consumes and sends that message:
// Acquire hands the payload to the first caller, later callers queue FIFO,
// and Release(consume) clears the payload and wakes the next waiter.
package sendlock
