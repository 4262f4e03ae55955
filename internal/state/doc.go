// Package state implements the per-event mutable runtime state: the
// schedule position ticker, the speaker timer, the broadcast message,
// and the process-lifetime instance registry.
package state
