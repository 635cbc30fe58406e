// Package dedupe collapses repeated keys within a time window.
//
// The supervisor keys session events by agent, kind and detail so a worker
// failing the same way on every step writes one ledger row per window
// instead of one per step. The next occurrence after the window reports how
// many repeats were swallowed.
package dedupe
