// Package events publishes security and lifecycle events emitted by the
// authorization and session subsystems. Publishers are best-effort: a
// failed publish is logged and counted but never propagated to the caller.
package events
