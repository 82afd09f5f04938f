// Package audio handles PCM16LE validation and conversion, fixed-size
// chunking of audio byte streams for the decoder, and WAV encoding/decoding
// for the batch transcription path.
package audio
