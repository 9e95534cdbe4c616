// Package breaker implements a per-service circuit breaker. A breaker moves
// between CLOSED, OPEN and HALF_OPEN according to cumulative failure and
// success counts, short-circuits calls while OPEN, and publishes every
// transition to registered observers in the order it happened.
package breaker
