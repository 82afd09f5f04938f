package stream

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gonzalinux/voskd/internal/engine"
	"github.com/gonzalinux/voskd/internal/metrics"
)

// Decoder is the recognition surface a session needs. *engine.Recognizer
// satisfies it; tests substitute a fake so the package runs without the
// native library.
type Decoder interface {
	AcceptWaveform(pcm []byte) (engine.Signal, error)
	Result() (string, error)
	PartialResult() (string, error)
	FinalResult() (string, error)
	Reset() error
	SetMaxAlternatives(n int) error
	SetWords(enabled bool) error
	SetPartialWords(enabled bool) error
	Close() error
}

// DecoderSource creates decoders for named models.
type DecoderSource interface {
	NewDecoder(model string, sampleRate float64) (Decoder, error)
	HasModel(model string) bool
}

// ModelSet holds the acoustic models loaded at startup. Models are shared
// and read-only; any number of decoders can be created against one model
// concurrently.
type ModelSet struct {
	models      map[string]*engine.Model
	defaultName string
}

// LoadModels loads every configured model from disk. On any failure the
// already-loaded models are closed before returning.
func LoadModels(paths map[string]string, defaultName string, logger *slog.Logger, m *metrics.Metrics) (*ModelSet, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	if _, ok := paths[defaultName]; !ok {
		return nil, fmt.Errorf("default model %q is not configured", defaultName)
	}

	ms := &ModelSet{
		models:      make(map[string]*engine.Model, len(paths)),
		defaultName: defaultName,
	}

	for name, path := range paths {
		start := time.Now()
		model, err := engine.LoadModel(path)
		if err != nil {
			ms.Close()
			return nil, fmt.Errorf("failed to load model %q from %s: %w", name, path, err)
		}
		ms.models[name] = model

		logger.Info("Model loaded",
			slog.String("model", name),
			slog.String("path", path),
			slog.Duration("elapsed", time.Since(start)),
		)
		if m != nil {
			m.RecordModelLoad(time.Since(start).Seconds())
		}
	}

	if m != nil {
		m.SetModelsLoaded(len(ms.models))
	}
	return ms, nil
}

// NewDecoder creates a recognizer against the named model. An empty name
// selects the default model.
func (ms *ModelSet) NewDecoder(model string, sampleRate float64) (Decoder, error) {
	if model == "" {
		model = ms.defaultName
	}
	m, ok := ms.models[model]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", model)
	}
	rec, err := engine.NewRecognizer(m, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer for model %q: %w", model, err)
	}
	return rec, nil
}

// HasModel reports whether the named model is loaded.
func (ms *ModelSet) HasModel(model string) bool {
	if model == "" {
		return true
	}
	_, ok := ms.models[model]
	return ok
}

// DefaultModel returns the name of the default model.
func (ms *ModelSet) DefaultModel() string {
	return ms.defaultName
}

// Names returns the loaded model names.
func (ms *ModelSet) Names() []string {
	names := make([]string, 0, len(ms.models))
	for name := range ms.models {
		names = append(names, name)
	}
	return names
}

// FindWord looks a word up in the named model's vocabulary. Returns the
// symbol id, or -1 when the word is unknown.
func (ms *ModelSet) FindWord(model, word string) (int, error) {
	if model == "" {
		model = ms.defaultName
	}
	m, ok := ms.models[model]
	if !ok {
		return 0, fmt.Errorf("unknown model %q", model)
	}
	return m.FindWord(word)
}

// Close frees every loaded model. Models referenced by live decoders stay
// usable until those decoders are closed.
func (ms *ModelSet) Close() {
	for _, m := range ms.models {
		_ = m.Close()
	}
}
