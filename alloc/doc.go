// Package alloc is the only sanctioned way to obtain and release packet
// buffers.
//
// Every buffer handed out is registered with the tracker, and every release
// goes through the tracker first: a release the tracker refuses (double
// free, unknown buffer) leaks the buffer on purpose rather than returning
// its storage twice. Storage comes from power-of-two slab pools under an
// optional byte budget; an exhausted budget is reported as ErrNoMemory.
package alloc
