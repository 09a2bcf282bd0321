// Package service exposes the diagnostics of the buffer layer, the
// tracker, allocator and work queues, independent of any transport.
package service
