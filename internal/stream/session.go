package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gonzalinux/voskd/internal/audio"
	"github.com/gonzalinux/voskd/internal/engine"
	"github.com/gonzalinux/voskd/internal/metrics"
	"github.com/gonzalinux/voskd/internal/pool"
)

// EventKind classifies a recognition event produced by a session.
type EventKind int

const (
	// EventPartial carries an interim hypothesis; the utterance continues.
	EventPartial EventKind = iota
	// EventFinal carries a finalized utterance result.
	EventFinal
	// EventDecodeError reports that the engine could not decode a chunk.
	// The session stays usable.
	EventDecodeError
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventDecodeError:
		return "decode_error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one recognition event. Result holds the engine's JSON verbatim
// for partial and final events.
type Event struct {
	Kind   EventKind
	Seq    uint64
	Result string
}

// Session owns exactly one decoder. All decoder access goes through the
// session's mutex, so a session is safe to share, but callers should treat
// it as a single logical stream: interleaving audio from two producers
// yields meaningless transcripts.
type Session struct {
	ID        string
	Model     string
	CreatedAt time.Time

	dec     Decoder
	pool    *pool.Pool
	metrics *metrics.Metrics // may be nil

	// onFinal, when set, receives finalized utterance JSON asynchronously.
	onFinal func(s *Session, result string)

	mu           sync.Mutex
	lastActivity time.Time
	seq          uint64
	chunks       uint64
	utterances   uint64
	decodeErrors uint64
	closed       bool
}

// Feed decodes one PCM16LE chunk and returns the resulting event. The
// decode itself runs on the worker pool; Feed blocks until it completes.
func (s *Session) Feed(ctx context.Context, pcm []byte) (*Event, error) {
	if err := audio.ValidatePCM(pcm); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, engine.ErrClosed
	}
	s.lastActivity = time.Now()
	s.seq++
	s.chunks++

	start := time.Now()
	var (
		signal engine.Signal
		err    error
	)
	if poolErr := s.pool.Do(ctx, func() {
		signal, err = s.dec.AcceptWaveform(pcm)
	}); poolErr != nil {
		return nil, poolErr
	}
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordChunkAccepted(len(pcm), time.Since(start).Seconds())
	}

	switch signal {
	case engine.SignalUtteranceEnd:
		s.utterances++
		if s.metrics != nil {
			s.metrics.RecordUtterance()
		}
		result, err := s.dec.Result()
		if err != nil {
			return nil, err
		}
		s.notifyFinal(result)
		return &Event{Kind: EventFinal, Seq: s.seq, Result: result}, nil

	case engine.SignalError:
		s.decodeErrors++
		if s.metrics != nil {
			s.metrics.RecordDecodeError()
		}
		return &Event{Kind: EventDecodeError, Seq: s.seq}, nil

	default:
		result, err := s.dec.PartialResult()
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventPartial, Seq: s.seq, Result: result}, nil
	}
}

// Flush finalizes the current utterance, forcing any buffered audio through
// the decoder, and returns the final event.
func (s *Session) Flush(ctx context.Context) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, engine.ErrClosed
	}
	s.lastActivity = time.Now()
	s.seq++

	var (
		result string
		err    error
	)
	if poolErr := s.pool.Do(ctx, func() {
		result, err = s.dec.FinalResult()
	}); poolErr != nil {
		return nil, poolErr
	}
	if err != nil {
		return nil, err
	}

	// Counted only once the decoder actually produced a final result.
	s.utterances++
	if s.metrics != nil {
		s.metrics.RecordUtterance()
	}
	s.notifyFinal(result)
	return &Event{Kind: EventFinal, Seq: s.seq, Result: result}, nil
}

// Reset returns the decoder to its just-created state. Model binding and
// sample rate are retained.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engine.ErrClosed
	}
	s.lastActivity = time.Now()
	return s.dec.Reset()
}

// Configure applies recognizer options. Nil fields are left untouched.
func (s *Session) Configure(maxAlternatives *int, words, partialWords *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return engine.ErrClosed
	}
	s.lastActivity = time.Now()

	if maxAlternatives != nil {
		if err := s.dec.SetMaxAlternatives(*maxAlternatives); err != nil {
			return err
		}
	}
	if words != nil {
		if err := s.dec.SetWords(*words); err != nil {
			return err
		}
	}
	if partialWords != nil {
		if err := s.dec.SetPartialWords(*partialWords); err != nil {
			return err
		}
	}
	return nil
}

// Close frees the session's decoder. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.dec.Close()
}

// notifyFinal hands a finalized transcript to the manager's sink.
// Called with s.mu held; the callback runs on its own goroutine so slow
// consumers never block decoding.
func (s *Session) notifyFinal(result string) {
	if s.onFinal != nil {
		go s.onFinal(s, result)
	}
}

// LastActivity returns the time of the session's most recent operation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Info returns a snapshot of the session for monitoring.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:           s.ID,
		Model:        s.Model,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		Duration:     time.Since(s.CreatedAt),
		Chunks:       s.chunks,
		Utterances:   s.utterances,
		DecodeErrors: s.decodeErrors,
	}
}

// SessionInfo is a point-in-time view of a session for monitoring APIs.
type SessionInfo struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`
	Chunks       uint64        `json:"chunks"`
	Utterances   uint64        `json:"utterances"`
	DecodeErrors uint64        `json:"decode_errors"`
}
