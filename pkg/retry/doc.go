// Package retry provides exponential backoff retry logic for transient failures.
//
// # Functions
//
//   - Do: run fn up to MaxAttempts times with exponential backoff
//   - DoWithResult: Do for functions returning a value
//   - Until: retry without an attempt limit until success or cancellation; used when a
//     publication channel must be rebuilt after a socket failure
//
// # Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay (socket bind on startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (reconnects)
//
// Wrap an error with NonRetryable to stop retrying immediately.
package retry
