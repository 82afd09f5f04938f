package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gonzalinux/voskd/internal/audio"
)

// loadTestModel loads the model referenced by VOSK_MODEL_PATH, skipping the
// test when the fixture is not available. Lifecycle and decoding tests need
// a real model directory next to the native library.
func loadTestModel(t *testing.T) *Model {
	t.Helper()

	path := os.Getenv("VOSK_MODEL_PATH")
	if path == "" {
		t.Skip("VOSK_MODEL_PATH not set, skipping native engine test")
	}

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("failed to load test model from %s: %v", path, err)
	}
	t.Cleanup(func() { _ = m.Close() })

	return m
}

// silenceChunk returns n bytes of PCM16 silence.
func silenceChunk(n int) []byte {
	return make([]byte, n)
}

// fixtureTranscript is the expected transcript for the default model+audio
// fixture pair; VOSK_AUDIO_TRANSCRIPT overrides it for other fixtures.
const fixtureTranscript = "hello one two three welcome to this demonstration thank you for listening"

// loadAudioFixture reads the recorded utterance referenced by
// VOSK_AUDIO_PATH, skipping the test when it is not available. The fixture
// may be a 16 kHz mono WAV file or raw PCM16LE.
func loadAudioFixture(t *testing.T) []byte {
	t.Helper()

	path := os.Getenv("VOSK_AUDIO_PATH")
	if path == "" {
		t.Skip("VOSK_AUDIO_PATH not set, skipping fixture transcription test")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read audio fixture %s: %v", path, err)
	}
	if audio.IsWAV(data) {
		pcm, rate, err := audio.DecodeWAV(data)
		if err != nil {
			t.Fatalf("invalid WAV fixture %s: %v", path, err)
		}
		if rate != 16000 {
			t.Fatalf("fixture must be 16 kHz, got %d", rate)
		}
		return pcm
	}
	return data
}

// transcribeFixture feeds the fixture in 8000-byte chunks and returns the
// final result JSON.
func transcribeFixture(t *testing.T, r *Recognizer, pcm []byte) string {
	t.Helper()

	for off := 0; off < len(pcm); off += 8000 {
		end := off + 8000
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := r.AcceptWaveform(pcm[off:end]); err != nil {
			t.Fatalf("AcceptWaveform failed at offset %d: %v", off, err)
		}
	}

	final, err := r.FinalResult()
	if err != nil {
		t.Fatalf("FinalResult failed: %v", err)
	}
	return final
}

func TestLoadModelValidation(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(tmpFile, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"empty path", "", ErrInvalidArgument},
		{"oversized path", strings.Repeat("a", MaxModelPathBytes+1), ErrInvalidArgument},
		{"nonexistent directory", filepath.Join(t.TempDir(), "missing"), ErrModelLoadFailed},
		{"path is a file", tmpFile, ErrModelLoadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := LoadModel(tt.path)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if m != nil {
				t.Error("expected nil model on failure")
			}
		})
	}
}

func TestNewRecognizerNilModel(t *testing.T) {
	r, err := NewRecognizer(nil, 16000)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if r != nil {
		t.Error("expected nil recognizer on failure")
	}
}

func TestFindWord(t *testing.T) {
	m := loadTestModel(t)

	// Vocabulary lookups are pure: repeated calls must agree.
	first, err := m.FindWord("one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.FindWord("one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("FindWord not idempotent: %d then %d", first, second)
	}

	id, err := m.FindWord("zzzzzdefinitelynotaword")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != -1 {
		t.Errorf("expected -1 for unknown word, got %d", id)
	}
}

func TestFindWordValidation(t *testing.T) {
	m := loadTestModel(t)

	if _, err := m.FindWord(""); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty word, got %v", err)
	}
	if _, err := m.FindWord(strings.Repeat("a", MaxWordBytes+1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for oversized word, got %v", err)
	}
}

func TestNewRecognizerValidation(t *testing.T) {
	m := loadTestModel(t)

	for _, rate := range []float64{0, -16000} {
		if _, err := NewRecognizer(m, rate); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("rate %v: expected ErrInvalidArgument, got %v", rate, err)
		}
	}
}

func TestAcceptWaveformSilence(t *testing.T) {
	m := loadTestModel(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}
	defer r.Close()

	sig, err := r.AcceptWaveform(silenceChunk(8000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == SignalError {
		t.Errorf("silence chunk produced decode error")
	}

	raw, err := r.PartialResult()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParsePartial(raw); err != nil {
		t.Errorf("partial result is not valid JSON: %v", err)
	}
}

func TestAcceptWaveformBoundary(t *testing.T) {
	m := loadTestModel(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}
	defer r.Close()

	// Odd-length buffers never reach the native library.
	if _, err := r.AcceptWaveform(make([]byte, 3)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for odd buffer, got %v", err)
	}

	// Zero-length buffers are accepted.
	if _, err := r.AcceptWaveform(nil); err != nil {
		t.Errorf("unexpected error for empty buffer: %v", err)
	}
}

func TestResetDeterminism(t *testing.T) {
	m := loadTestModel(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}
	defer r.Close()

	feed := func() string {
		for i := 0; i < 4; i++ {
			if _, err := r.AcceptWaveform(silenceChunk(8000)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		final, err := r.FinalResult()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return final
	}

	first := feed()

	if err := r.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	second := feed()

	if first != second {
		t.Errorf("reset did not restore initial state:\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestRecognizerOptions(t *testing.T) {
	m := loadTestModel(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}
	defer r.Close()

	if err := r.SetWords(true); err != nil {
		t.Errorf("SetWords failed: %v", err)
	}
	if err := r.SetPartialWords(true); err != nil {
		t.Errorf("SetPartialWords failed: %v", err)
	}
	if err := r.SetMaxAlternatives(3); err != nil {
		t.Errorf("SetMaxAlternatives failed: %v", err)
	}
	if err := r.SetMaxAlternatives(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for negative alternatives, got %v", err)
	}

	// Options must remain settable between waveform calls.
	if _, err := r.AcceptWaveform(silenceChunk(8000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetWords(false); err != nil {
		t.Errorf("SetWords between chunks failed: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	m := loadTestModel(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if _, err := r.AcceptWaveform(silenceChunk(2)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if _, err := r.Result(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

func TestTranscribeFixture(t *testing.T) {
	m := loadTestModel(t)
	pcm := loadAudioFixture(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}
	defer r.Close()

	raw := transcribeFixture(t, r, pcm)
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("final result is not valid JSON: %v", err)
	}

	want := os.Getenv("VOSK_AUDIO_TRANSCRIPT")
	if want == "" {
		want = fixtureTranscript
	}
	if res.Text != want {
		t.Errorf("unexpected transcript:\nwant: %s\ngot:  %s", want, res.Text)
	}
}

func TestTranscribeFixtureWordTimings(t *testing.T) {
	m := loadTestModel(t)
	pcm := loadAudioFixture(t)

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}
	defer r.Close()

	if err := r.SetWords(true); err != nil {
		t.Fatalf("SetWords failed: %v", err)
	}

	raw := transcribeFixture(t, r, pcm)
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("final result is not valid JSON: %v", err)
	}

	if len(res.Words) == 0 {
		t.Fatal("expected word-level output with SetWords enabled")
	}
	for _, w := range res.Words {
		if w.Word == "" {
			t.Error("word entry with empty text")
		}
		if w.Start > w.End {
			t.Errorf("word %q: start %f after end %f", w.Word, w.Start, w.End)
		}
		if w.Conf < 0 || w.Conf > 1 {
			t.Errorf("word %q: confidence %f out of range", w.Word, w.Conf)
		}
	}
}

func TestModelCloseKeepsRecognizerAlive(t *testing.T) {
	path := os.Getenv("VOSK_MODEL_PATH")
	if path == "" {
		t.Skip("VOSK_MODEL_PATH not set, skipping native engine test")
	}

	m, err := LoadModel(path)
	if err != nil {
		t.Fatalf("failed to load model: %v", err)
	}

	r, err := NewRecognizer(m, 16000)
	if err != nil {
		t.Fatalf("failed to create recognizer: %v", err)
	}

	// Releasing the model while the recognizer lives must not invalidate
	// the recognizer; the native free is deferred to the last reference.
	if err := m.Close(); err != nil {
		t.Fatalf("model close failed: %v", err)
	}

	if _, err := r.AcceptWaveform(silenceChunk(8000)); err != nil {
		t.Errorf("recognizer unusable after model close: %v", err)
	}
	if _, err := r.FinalResult(); err != nil {
		t.Errorf("recognizer unusable after model close: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Errorf("recognizer close failed: %v", err)
	}

	// New recognizers must be refused on the closed model.
	if _, err := NewRecognizer(m, 16000); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed creating recognizer on closed model, got %v", err)
	}
}
