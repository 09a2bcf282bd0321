// Package buffer defines the packet buffer entity that moves between the
// firmware transport and the host network stack.
//
// A Buffer carries its identity, allocation site and an optional shadow
// relationship; storage management lives in package alloc.
package buffer
