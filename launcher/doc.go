// Package launcher implements the per-host plugin launcher: a bounded
// concurrent executor that runs security-test routines ("NVTs") against a
// single target host as child processes, multiplexes their out-of-band
// result streams back to an upstream consumer, enforces per-routine
// timeouts, and arbitrates mutual-exclusion constraints between routines
// that would otherwise collide on shared target ports/services.
//
// The scheduling model is single-threaded and cooperative: a single owning
// goroutine drives the Slot Table, the readiness Poller, the Deadline
// Enforcer and the Reaper. Parallelism comes exclusively from running
// routines in separate OS processes whose progress is observed through a
// bounded poll, never from internal goroutines or locks.
package launcher
