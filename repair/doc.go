// Package repair closes the gap left by partial dual-store writes.
//
// A partial write is a committed relational transaction whose vector upsert
// failed. The repairer sweeps a run's recorded partial outcomes, re-derives
// the missing vectors from the source content, upserts them under the same
// deterministic ids, and flips each outcome to committed. When nothing
// partial remains, a run paused for repair is marked done.
package repair
