// Package pool provides a fixed-size worker pool for long-running CPU-bound
// decode calls, keeping them off latency-sensitive goroutines such as
// connection read loops and HTTP handlers.
package pool
