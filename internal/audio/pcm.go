package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one PCM16 sample.
const BytesPerSample = 2

// ValidatePCM checks that a buffer is a whole number of 16-bit samples.
// Zero-length buffers are valid.
func ValidatePCM(buf []byte) error {
	if len(buf)%BytesPerSample != 0 {
		return fmt.Errorf("PCM16 buffer length must be a multiple of %d, got %d", BytesPerSample, len(buf))
	}
	return nil
}

// Duration returns the playback duration of a PCM16 mono byte buffer at the
// given sample rate.
func Duration(byteLen int, sampleRate float64) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := float64(byteLen / BytesPerSample)
	return time.Duration(samples / sampleRate * float64(time.Second))
}
