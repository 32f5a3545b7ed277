// Package retry provides exponential-backoff retries and a timeout wrapper.
//
// Do runs an operation up to MaxRetries+1 times, sleeping between attempts
// with a delay that starts at InitialDelay, grows by BackoffFactor and is
// clamped to MaxDelay. When every attempt fails the result is an
// *ExhaustedError wrapping the last error.
//
// WithTimeout races an operation against a timer. On timeout the operation's
// context is cancelled but the wrapper does not wait for it to return; any
// late result is dropped. Operations that ignore their context keep running
// in the background until they finish on their own.
package retry
