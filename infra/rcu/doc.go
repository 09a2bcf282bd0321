// Package rcu implements read-mostly publication with grace periods.
//
// Readers bracket their access with Enter/Exit and never block. A writer
// publishes a new value through Pointer.Assign and then calls
// Domain.Synchronize, which returns only after every reader that entered
// before the call has exited. Readers entering later observe the new value.
//
// The read side is two phase counters selected by the parity of the
// domain's grace-period number, in the same spirit as the epoch readers
// used for reclamation elsewhere in this module.
package rcu
