// Package engine wraps the native Vosk speech recognition library behind
// safe, reference-counted handles. It owns model and recognizer lifecycles,
// validates arguments before they cross the native boundary, maps the
// tri-state waveform signal to a typed enum, and parses the JSON result
// payloads the decoder produces.
package engine
