// Package engine orchestrates remote work against the compute platform.
// It owns the stateful parts of the system: execution context lifecycle,
// command and statement completion, and job run observation, all driven
// through the shared poll loop with deadlines, classified failures, and
// guaranteed cleanup. The engine keeps no state between process runs; the
// platform is the source of truth and is rediscovered by polling.
package engine
