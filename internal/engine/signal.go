package engine

import "fmt"

// Signal is the tri-state outcome of feeding a waveform chunk into a
// recognizer, mapped from the native {0, 1, -1} return codes.
type Signal int

const (
	// SignalContinue means the decoder accumulated the audio and wants more
	SignalContinue Signal = iota

	// SignalUtteranceEnd means an endpoint (silence) was detected and a
	// finalized result is available via Result
	SignalUtteranceEnd

	// SignalError means the decoder reported an error for this chunk; the
	// recognizer remains usable for subsequent audio
	SignalError
)

// String returns a human-readable name for the signal.
func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalUtteranceEnd:
		return "utterance_end"
	case SignalError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// signalFromCode maps a native accept-waveform return code to a Signal.
// The native contract is 0 = continue, positive = utterance boundary,
// negative = decode error.
func signalFromCode(code int) Signal {
	switch {
	case code > 0:
		return SignalUtteranceEnd
	case code < 0:
		return SignalError
	default:
		return SignalContinue
	}
}
