// Package tracker keeps the registry of outstanding packet buffers.
//
// Every allocation registers a record, every release must find a live one.
// A release that finds nothing (never tracked, or already freed) is
// refused and counted so the caller leaks the buffer instead of freeing it
// twice. Report enumerates what is still live.
//
// The registry can be switched off by configuration; New then returns Nop,
// which satisfies the same interface at no cost.
package tracker
