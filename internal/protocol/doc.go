// Package protocol defines the JSON message envelope for streaming
// recognition sessions over WebSocket: client control messages and
// server-side recognition events. Audio itself travels as binary frames
// and never passes through this package.
package protocol
