// Package workq is the deferred work queue a device uses to hand received
// buffers to a worker goroutine.
//
// Producers call Enqueue from any context. Each queue holds an RCU
// protected liveness token naming its owner; Deinit clears the token and
// waits a grace period before draining, so after Deinit returns no buffer
// can be left behind in the queue and no producer can still be appending to
// it. Buffers offered to a queue that is already gone are released
// immediately.
package workq
