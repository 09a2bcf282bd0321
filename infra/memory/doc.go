// Package memory provides the storage primitives under the tracked
// allocator: typed object pools, power-of-two slab pools, a byte budget
// that turns exhaustion into an explicit failure, and the FIFO ring used by
// deferred work queues.
//
// Nothing here knows about buffer identities or tracking; that lives in
// packages alloc and tracker.
package memory
