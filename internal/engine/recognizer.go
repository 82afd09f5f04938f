package engine

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

// Recognizer wraps a stateful Vosk decoding session bound to one model and
// one fixed sample rate. A recognizer is not safe for concurrent use by
// more than one logical owner; the internal mutex serializes interleaved
// calls so misuse degrades to blocking instead of undefined behavior.
//
// The recognizer holds a reference that keeps its model alive: closing the
// model while recognizers exist defers the native model free until the last
// recognizer is closed.
type Recognizer struct {
	mu         sync.Mutex
	native     *vosk.VoskRecognizer
	model      *Model
	sampleRate float64
	closed     bool
}

// NewRecognizer creates a decoding session for the given model and sample
// rate. The sample rate must be a positive finite value and must match the
// rate of all subsequently fed audio exactly; no resampling is performed.
func NewRecognizer(model *Model, sampleRate float64) (*Recognizer, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: model is nil", ErrInvalidArgument)
	}
	if !(sampleRate > 0) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %v", ErrInvalidArgument, sampleRate)
	}

	if err := model.acquire(); err != nil {
		return nil, err
	}

	native, err := vosk.NewRecognizer(model.native, sampleRate)
	if err != nil {
		model.release()
		return nil, fmt.Errorf("%w: model %s at %v Hz", ErrRecognizerCreationFailed, model.path, sampleRate)
	}

	r := &Recognizer{
		native:     native,
		model:      model,
		sampleRate: sampleRate,
	}

	runtime.SetFinalizer(r, func(r *Recognizer) { _ = r.Close() })

	return r, nil
}

// SampleRate returns the fixed sample rate the recognizer was created with.
func (r *Recognizer) SampleRate() float64 {
	return r.sampleRate
}

// SetMaxAlternatives configures the number of alternative hypotheses
// included in finalized results. Zero restores the default single-best
// output. Callable at any time between waveform calls.
func (r *Recognizer) SetMaxAlternatives(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: max alternatives must be non-negative, got %d", ErrInvalidArgument, n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recognizer: %w", ErrClosed)
	}
	r.native.SetMaxAlternatives(n)
	return nil
}

// SetWords toggles per-word timing entries in finalized results.
func (r *Recognizer) SetWords(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recognizer: %w", ErrClosed)
	}
	r.native.SetWords(boolToInt(enabled))
	return nil
}

// SetPartialWords toggles per-word entries in partial results.
func (r *Recognizer) SetPartialWords(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recognizer: %w", ErrClosed)
	}
	r.native.SetPartialWords(boolToInt(enabled))
	return nil
}

// AcceptWaveform feeds a chunk of PCM16LE mono audio into the decoder and
// returns the tri-state signal: SignalContinue while the utterance is in
// progress, SignalUtteranceEnd when an endpoint was detected (the caller
// should read Result before feeding more audio), or SignalError when the
// decoder rejected the chunk. A SignalError is data, not a failure of the
// call; the recognizer remains usable afterwards.
//
// The buffer length must be a multiple of 2 (16-bit samples); zero-length
// buffers are accepted. Decoding is CPU-bound and proportional to the chunk
// length, so callers on latency-sensitive paths should dispatch this call
// to a worker pool reserved for long-running work.
func (r *Recognizer) AcceptWaveform(pcm []byte) (Signal, error) {
	if len(pcm)%2 != 0 {
		return SignalError, fmt.Errorf("%w: PCM16 buffer length must be even, got %d", ErrInvalidArgument, len(pcm))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return SignalError, fmt.Errorf("recognizer: %w", ErrClosed)
	}

	code := r.native.AcceptWaveform(pcm)
	runtime.KeepAlive(r)
	return signalFromCode(code), nil
}

// Result returns the JSON-encoded finalized hypothesis for the most
// recently completed utterance. Valid after AcceptWaveform returned
// SignalUtteranceEnd. Pure read: the decode state machine does not advance.
func (r *Recognizer) Result() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", fmt.Errorf("recognizer: %w", ErrClosed)
	}
	res := r.native.Result()
	runtime.KeepAlive(r)
	return res, nil
}

// PartialResult returns the JSON-encoded in-progress hypothesis for the
// current utterance. Pure read.
func (r *Recognizer) PartialResult() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", fmt.Errorf("recognizer: %w", ErrClosed)
	}
	res := r.native.PartialResult()
	runtime.KeepAlive(r)
	return res, nil
}

// FinalResult flushes any buffered-but-undecided audio at end of stream and
// returns the JSON-encoded finalized hypothesis. Unlike Result and
// PartialResult this forces the feature pipeline to flush.
func (r *Recognizer) FinalResult() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", fmt.Errorf("recognizer: %w", ErrClosed)
	}
	res := r.native.FinalResult()
	runtime.KeepAlive(r)
	return res, nil
}

// Reset discards in-progress decoding state, returning the recognizer to
// its just-created condition. The bound model and sample rate are retained.
func (r *Recognizer) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recognizer: %w", ErrClosed)
	}
	r.native.Reset()
	runtime.KeepAlive(r)
	return nil
}

// Close frees the native decoding state and releases the model reference.
// Idempotent: repeated calls are no-ops. Must not be called while another
// call on the same recognizer is outstanding in a different goroutine; the
// internal mutex makes violations block rather than crash.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	runtime.SetFinalizer(r, nil)

	r.native.Free()
	r.native = nil
	r.model.release()
	return nil
}

// boolToInt converts a flag to the 0/1 integer the native setters expect.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
