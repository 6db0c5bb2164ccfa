// Package worker implements worker spawning and lifecycle management.
// The Spawner gates spawn requests through policy, template allowlists,
// and resource admission before dispatching to a deployment mode, and
// the Manager tracks every spawned worker through its state machine
// until a terminal result is collected.
package worker
