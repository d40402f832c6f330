// Package jobs owns the job lifecycle.
//
// A job starts PENDING, is SCHEDULED once a stall has been reserved for it,
// becomes ACTIVE when the clock reaches its scheduled start and COMPLETED
// once its sampled duration has elapsed. Any non-terminal job may be
// CANCELLED. Time-driven transitions run in bounded sweeps driven by
// ProcessTransitions, normally from a Ticker.
package jobs
