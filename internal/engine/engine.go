package engine

import (
	"errors"
	"sync/atomic"

	vosk "github.com/alphacep/vosk-api/go"
)

// Argument size bounds enforced before data crosses the native boundary
const (
	// MaxModelPathBytes is the maximum accepted model directory path length
	MaxModelPathBytes = 1023

	// MaxWordBytes is the maximum accepted vocabulary word length
	MaxWordBytes = 255
)

// Sentinel errors returned by the engine boundary
var (
	// ErrModelLoadFailed indicates the native library rejected the model directory
	ErrModelLoadFailed = errors.New("model load failed")

	// ErrRecognizerCreationFailed indicates the native library could not create a recognizer
	ErrRecognizerCreationFailed = errors.New("recognizer creation failed")

	// ErrInvalidArgument indicates an argument was rejected before reaching the native library
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed indicates an operation on an already-released handle
	ErrClosed = errors.New("handle is closed")
)

// logLevel mirrors the process-global verbosity of the native library.
// The native setting has no getter, so the last value written here is
// the source of truth for reporting.
var logLevel atomic.Int32

// SetLogLevel sets the native library's diagnostic verbosity for the whole
// process. Negative silences all output, zero is the library default,
// positive increases verbosity. Safe to call before any model is loaded
// and at any later time, from any goroutine.
func SetLogLevel(level int) {
	logLevel.Store(int32(level))
	vosk.SetLogLevel(level)
}

// LogLevel returns the last log level set through SetLogLevel.
func LogLevel() int {
	return int(logLevel.Load())
}
