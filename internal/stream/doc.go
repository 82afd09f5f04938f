// Package stream manages recognition sessions: one decoder per session,
// decode dispatch through the worker pool, idle-session cleanup, and the
// shared set of loaded acoustic models.
package stream
