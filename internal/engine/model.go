package engine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

// Model wraps a loaded Vosk model: acoustic model, language model and
// vocabulary graph, loaded from a directory. A Model is immutable once
// loaded and may be shared by any number of recognizers concurrently.
//
// Close is idempotent. If recognizers still reference the model when Close
// is called, the native resources stay alive until the last recognizer
// releases its reference; the native free runs exactly once.
type Model struct {
	mu     sync.Mutex
	native *vosk.VoskModel
	path   string
	refs   int
	closed bool
}

// LoadModel loads a Vosk model from a directory path. The path must be
// non-empty, at most MaxModelPathBytes bytes, and reference an existing
// directory; violations are reported as ErrInvalidArgument without touching
// the native library. A native load failure is reported as
// ErrModelLoadFailed and allocates nothing.
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: model path is empty", ErrInvalidArgument)
	}
	if len(path) > MaxModelPathBytes {
		return nil, fmt.Errorf("%w: model path exceeds %d bytes", ErrInvalidArgument, MaxModelPathBytes)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrModelLoadFailed, path)
	}

	native, err := vosk.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelLoadFailed, path)
	}

	m := &Model{
		native: native,
		path:   path,
	}

	// GC backstop for handles the owner forgot to close. Explicit Close
	// remains the normal release path.
	runtime.SetFinalizer(m, func(m *Model) { _ = m.Close() })

	return m, nil
}

// Path returns the directory the model was loaded from.
func (m *Model) Path() string {
	return m.path
}

// FindWord looks up a word in the model vocabulary and returns its symbol
// id, or -1 if the word is not present. The lookup is a pure read with no
// side effects. Words longer than MaxWordBytes are rejected as
// ErrInvalidArgument.
func (m *Model) FindWord(word string) (int, error) {
	if word == "" {
		return -1, fmt.Errorf("%w: word is empty", ErrInvalidArgument)
	}
	if len(word) > MaxWordBytes {
		return -1, fmt.Errorf("%w: word exceeds %d bytes", ErrInvalidArgument, MaxWordBytes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return -1, fmt.Errorf("model %s: %w", m.path, ErrClosed)
	}

	id := m.native.FindWord(word)
	runtime.KeepAlive(m)
	return id, nil
}

// Close releases the caller's ownership of the model. Idempotent: repeated
// calls are no-ops. If recognizers built from this model are still alive,
// the native free is deferred until the last of them is closed.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	runtime.SetFinalizer(m, nil)

	if m.refs == 0 {
		m.freeNative()
	}
	return nil
}

// acquire registers a recognizer reference. Fails if the model owner has
// already released the handle.
func (m *Model) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("model %s: %w", m.path, ErrClosed)
	}
	m.refs++
	return nil
}

// release drops a recognizer reference, freeing the native model if the
// owner has closed the handle and this was the last reference.
func (m *Model) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs > 0 {
		m.refs--
	}
	if m.closed && m.refs == 0 {
		m.freeNative()
	}
}

// freeNative frees the native model exactly once. Caller must hold m.mu.
func (m *Model) freeNative() {
	if m.native != nil {
		m.native.Free()
		m.native = nil
	}
}
