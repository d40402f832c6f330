// Package pipeline sequences the services of a vehicle visit.
//
// On arrival the Orchestrator derives the services a vehicle needs, orders
// them so dry work runs before charging, soft-assigns a stall to each step
// from a snapshot of free stalls and lays the steps out back to back with a
// short transition buffer. Advancing moves the vehicle one step at a time; a
// step without a stall blocks the visit in QUEUED until a stall is found.
package pipeline
