// Package publish delivers finalized transcripts to a configured webhook
// endpoint with bounded concurrency and retries.
package publish
