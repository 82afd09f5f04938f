package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gonzalinux/voskd/internal/engine"
	"github.com/gonzalinux/voskd/internal/metrics"
	"github.com/gonzalinux/voskd/internal/pool"
)

// fakeDecoder plays back a scripted sequence of waveform signals so session
// logic can be exercised without the native library.
type fakeDecoder struct {
	mu       sync.Mutex
	signals  []engine.Signal
	calls    int
	finalErr error

	maxAlternatives int
	words           bool
	partialWords    bool
	resets          int
	closed          bool
}

func (d *fakeDecoder) AcceptWaveform(pcm []byte) (engine.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, engine.ErrClosed
	}
	sig := engine.SignalContinue
	if d.calls < len(d.signals) {
		sig = d.signals[d.calls]
	}
	d.calls++
	return sig, nil
}

func (d *fakeDecoder) Result() (string, error)        { return `{"text":"hello world"}`, nil }
func (d *fakeDecoder) PartialResult() (string, error) { return `{"partial":"hello"}`, nil }

func (d *fakeDecoder) FinalResult() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finalErr != nil {
		return "", d.finalErr
	}
	return `{"text":"hello world final"}`, nil
}

func (d *fakeDecoder) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return nil
}

func (d *fakeDecoder) SetMaxAlternatives(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxAlternatives = n
	return nil
}

func (d *fakeDecoder) SetWords(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.words = enabled
	return nil
}

func (d *fakeDecoder) SetPartialWords(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partialWords = enabled
	return nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeSource hands out fakeDecoders for a fixed model set.
type fakeSource struct {
	models   map[string]bool
	signals  []engine.Signal
	finalErr error
	last     *fakeDecoder
	failing  bool
}

func (f *fakeSource) NewDecoder(model string, sampleRate float64) (Decoder, error) {
	if f.failing {
		return nil, fmt.Errorf("decoder creation failed")
	}
	f.last = &fakeDecoder{signals: f.signals, finalErr: f.finalErr}
	return f.last, nil
}

func (f *fakeSource) HasModel(model string) bool {
	if model == "" {
		return true
	}
	return f.models[model]
}

// fakeSink collects published transcripts.
type fakeSink struct {
	transcripts chan Transcript
}

func (f *fakeSink) Publish(ctx context.Context, t Transcript) {
	f.transcripts <- t
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, source *fakeSource, sink TranscriptSink) (*Manager, *pool.Pool) {
	t.Helper()

	p := pool.New(2)
	t.Cleanup(p.Close)

	mgr, err := NewManager(source, p, testLogger(), nil, sink, ManagerConfig{
		SampleRate:  16000,
		IdleTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	return mgr, p
}

func TestCreateAndGetSession(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ID == "" {
		t.Error("expected non-empty session id")
	}
	if session.Model != "en-us" {
		t.Errorf("expected model en-us, got %q", session.Model)
	}

	got, exists := mgr.GetSession(session.ID)
	if !exists || got != session {
		t.Error("GetSession did not return the created session")
	}
	if mgr.ActiveSessionCount() != 1 {
		t.Errorf("expected 1 active session, got %d", mgr.ActiveSessionCount())
	}
}

func TestCreateSessionUnknownModel(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	if _, err := mgr.CreateSession("de"); err == nil {
		t.Error("expected error for unknown model")
	}
}

func TestCreateSessionDecoderFailure(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}, failing: true}
	mgr, _ := newTestManager(t, source, nil)

	if _, err := mgr.CreateSession("en-us"); err == nil {
		t.Error("expected error when decoder creation fails")
	}
}

func TestFeedEventSequence(t *testing.T) {
	source := &fakeSource{
		models:  map[string]bool{"en-us": true},
		signals: []engine.Signal{engine.SignalContinue, engine.SignalUtteranceEnd, engine.SignalError},
	}
	sink := &fakeSink{transcripts: make(chan Transcript, 4)}
	mgr, _ := newTestManager(t, source, sink)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	chunk := make([]byte, 8000)
	ctx := context.Background()

	ev, err := session.Feed(ctx, chunk)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if ev.Kind != EventPartial {
		t.Errorf("expected partial event, got %v", ev.Kind)
	}
	if ev.Result != `{"partial":"hello"}` {
		t.Errorf("unexpected partial result: %s", ev.Result)
	}

	ev, err = session.Feed(ctx, chunk)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if ev.Kind != EventFinal {
		t.Errorf("expected final event, got %v", ev.Kind)
	}
	if ev.Result != `{"text":"hello world"}` {
		t.Errorf("unexpected final result: %s", ev.Result)
	}

	select {
	case tr := <-sink.transcripts:
		if tr.SessionID != session.ID {
			t.Errorf("transcript carries wrong session id: %s", tr.SessionID)
		}
		if tr.Result != `{"text":"hello world"}` {
			t.Errorf("unexpected transcript result: %s", tr.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("transcript was not published")
	}

	ev, err = session.Feed(ctx, chunk)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if ev.Kind != EventDecodeError {
		t.Errorf("expected decode error event, got %v", ev.Kind)
	}

	// A decode error must not tear the session down.
	if _, err := session.Feed(ctx, chunk); err != nil {
		t.Errorf("session unusable after decode error: %v", err)
	}

	info := session.Info()
	if info.Chunks != 4 {
		t.Errorf("expected 4 chunks, got %d", info.Chunks)
	}
	if info.Utterances != 1 {
		t.Errorf("expected 1 utterance, got %d", info.Utterances)
	}
	if info.DecodeErrors != 1 {
		t.Errorf("expected 1 decode error, got %d", info.DecodeErrors)
	}
}

func TestFeedOddLengthRejected(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := session.Feed(context.Background(), make([]byte, 4001)); err == nil {
		t.Error("expected error for odd-length buffer")
	}
	if source.last.calls != 0 {
		t.Error("invalid buffer must not reach the decoder")
	}
}

func TestFlush(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	sink := &fakeSink{transcripts: make(chan Transcript, 1)}
	mgr, _ := newTestManager(t, source, sink)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	ev, err := session.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if ev.Kind != EventFinal {
		t.Errorf("expected final event, got %v", ev.Kind)
	}
	if ev.Result != `{"text":"hello world final"}` {
		t.Errorf("unexpected flush result: %s", ev.Result)
	}

	select {
	case <-sink.transcripts:
	case <-time.After(time.Second):
		t.Fatal("flushed transcript was not published")
	}
}

func TestFlushFailureDoesNotCountUtterance(t *testing.T) {
	source := &fakeSource{
		models:   map[string]bool{"en-us": true},
		finalErr: errors.New("decoder backend failed"),
	}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := session.Flush(context.Background()); err == nil {
		t.Fatal("expected Flush to fail")
	}
	if got := session.Info().Utterances; got != 0 {
		t.Errorf("failed flush must not count an utterance, got %d", got)
	}

	// Counting resumes once the decoder recovers.
	source.last.mu.Lock()
	source.last.finalErr = nil
	source.last.mu.Unlock()

	if _, err := session.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := session.Info().Utterances; got != 1 {
		t.Errorf("expected 1 utterance, got %d", got)
	}
}

func TestMetricsRecordedAtSessionLayer(t *testing.T) {
	appMetrics := metrics.NewMetrics()
	source := &fakeSource{
		models:  map[string]bool{"en-us": true},
		signals: []engine.Signal{engine.SignalContinue, engine.SignalUtteranceEnd, engine.SignalError},
	}

	p := pool.New(2)
	t.Cleanup(p.Close)

	mgr, err := NewManager(source, p, testLogger(), appMetrics, nil, ManagerConfig{
		SampleRate:  16000,
		IdleTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	ctx := context.Background()
	chunk := make([]byte, 8000)
	for i := 0; i < 3; i++ {
		if _, err := session.Feed(ctx, chunk); err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	if _, err := session.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if got := testutil.ToFloat64(appMetrics.ChunksAccepted); got != 3 {
		t.Errorf("expected 3 accepted chunks, got %v", got)
	}
	if got := testutil.ToFloat64(appMetrics.BytesAccepted); got != 24000 {
		t.Errorf("expected 24000 accepted bytes, got %v", got)
	}
	// One detected boundary plus the flush.
	if got := testutil.ToFloat64(appMetrics.Utterances); got != 2 {
		t.Errorf("expected 2 utterances, got %v", got)
	}
	if got := testutil.ToFloat64(appMetrics.DecodeErrors); got != 1 {
		t.Errorf("expected 1 decode error, got %v", got)
	}

	session.mu.Lock()
	session.lastActivity = time.Now().Add(-time.Hour)
	session.mu.Unlock()
	mgr.cleanupExpiredSessions()

	if got := testutil.ToFloat64(appMetrics.SessionsExpired); got != 1 {
		t.Errorf("expected 1 expired session, got %v", got)
	}
	if got := testutil.ToFloat64(appMetrics.SessionsClosed); got != 1 {
		t.Errorf("expected 1 closed session, got %v", got)
	}
}

func TestConfigure(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	three := 3
	yes := true
	if err := session.Configure(&three, &yes, nil); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	dec := source.last
	dec.mu.Lock()
	defer dec.mu.Unlock()
	if dec.maxAlternatives != 3 {
		t.Errorf("expected max alternatives 3, got %d", dec.maxAlternatives)
	}
	if !dec.words {
		t.Error("expected words enabled")
	}
	if dec.partialWords {
		t.Error("partial_words must stay untouched when nil")
	}
}

func TestReset(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := session.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if source.last.resets != 1 {
		t.Errorf("expected 1 reset, got %d", source.last.resets)
	}
}

func TestRemoveSession(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if !mgr.RemoveSession(session.ID) {
		t.Error("expected RemoveSession to succeed")
	}
	if mgr.RemoveSession(session.ID) {
		t.Error("expected second RemoveSession to return false")
	}
	if !source.last.closed {
		t.Error("removing a session must close its decoder")
	}

	if _, err := session.Feed(context.Background(), make([]byte, 4)); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("expected ErrClosed after removal, got %v", err)
	}
}

func TestIdleCleanup(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	mgr, _ := newTestManager(t, source, nil)

	session, err := mgr.CreateSession("en-us")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session.mu.Lock()
	session.lastActivity = time.Now().Add(-time.Hour)
	session.mu.Unlock()

	mgr.cleanupExpiredSessions()

	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("expected idle session to be reaped, %d still active", mgr.ActiveSessionCount())
	}
	if !source.last.closed {
		t.Error("reaped session must close its decoder")
	}
}

func TestManagerStopClosesSessions(t *testing.T) {
	source := &fakeSource{models: map[string]bool{"en-us": true}}
	p := pool.New(2)
	defer p.Close()

	mgr, err := NewManager(source, p, testLogger(), nil, nil, ManagerConfig{
		SampleRate:  16000,
		IdleTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := mgr.CreateSession("en-us"); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	mgr.Stop()

	if mgr.ActiveSessionCount() != 0 {
		t.Errorf("expected no active sessions after Stop, got %d", mgr.ActiveSessionCount())
	}
	if !source.last.closed {
		t.Error("Stop must close session decoders")
	}
}

func TestNewManagerValidation(t *testing.T) {
	p := pool.New(1)
	defer p.Close()
	source := &fakeSource{}

	tests := []struct {
		name   string
		source DecoderSource
		pool   *pool.Pool
		config ManagerConfig
	}{
		{"nil source", nil, p, ManagerConfig{SampleRate: 16000, IdleTimeout: time.Minute}},
		{"nil pool", source, nil, ManagerConfig{SampleRate: 16000, IdleTimeout: time.Minute}},
		{"zero sample rate", source, p, ManagerConfig{IdleTimeout: time.Minute}},
		{"zero idle timeout", source, p, ManagerConfig{SampleRate: 16000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.source, tt.pool, testLogger(), nil, nil, tt.config); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
