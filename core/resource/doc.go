// Package resource allocates depot stalls to vehicles.
//
// Allocation reads the stalls of the requested type block, ranks the
// available ones with Scorer and tries to reserve them best first. Each try
// is a compare-and-swap on the stall status, so a stall taken by a concurrent
// caller simply moves the loop to the next candidate. Contention and
// exhaustion are reported in AllocationResult; only store failures surface
// as errors.
package resource
