// Package server exposes the HTTP and WebSocket API: batch transcription,
// streaming recognition sessions, model and vocabulary queries, and the
// monitoring endpoints.
package server
