// Package dispatch is the hybrid job queue in front of the worker pool and
// the command engine.
//
// Jobs are routed by capability:
//   - job.CommandJob submissions run on the command engine. Their execution
//     handles live in an in-flight registry keyed by job key, so a new
//     submission always cancels and replaces the previous one.
//   - Every other job is delegated to the plain worker pool.
//
// The Observer is the command engine hook. It stamps start times, records
// per-layer timing and failure metrics, tears finished jobs down and sweeps
// completed handles out of the registry. It only ever acts on the job it
// was handed, so a late callback from a replaced execution cannot evict the
// newer entry registered under the same key.
//
// Size, high-water mark and queued names merge both backends.
package dispatch
