// Package checkpoint defines the persisted snapshot of a running sequence and the contract of the
// stores keeping them.
//
// Backends live in the sub packages: memory, redis, sqlstore and natskv. Every backend passes the
// conformance suite of checkpointtest.
package checkpoint
