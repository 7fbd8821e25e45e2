// Package engine defines the native inference boundary used by a session
// and provides the llama.cpp-backed implementation.
//
// Build tags:
//
//   - llama: in-process go-llama.cpp runtime (llama.go, llama_cgo.go).
//   - default: a no-CGO stub whose Load reports the runtime as unavailable
//     (llama_stub.go). Artifact download works in both builds.
//
// Every method blocks for the full duration of the native call. Callers
// must serialize access; implementations are not safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"pocketllm/pkg/types"
)

// Engine is the native runtime as seen by a session.
type Engine interface {
	// Fetch downloads url to destPath, reporting fractions in [0,1].
	Fetch(ctx context.Context, url, destPath string, onProgress func(float64)) error
	// Load creates the model handle from a local file.
	Load(path string, opts LoadOptions) error
	// SetParameters pushes the sampling vector used by later Generate calls.
	SetParameters(p types.ParameterSet) error
	// Generate runs one completion. onToken may be nil; returning false stops generation.
	Generate(ctx context.Context, prompt string, onToken func(string) bool) (string, error)
	// Unload frees the handle. Calling it without a handle is a no-op.
	Unload() error
}

// LoadOptions sizes the model context at load time.
type LoadOptions struct {
	ContextSize int
	BatchSize   int
	Threads     int
}

// LoadOptionsFrom takes the load-time sizing out of a parameter vector.
func LoadOptionsFrom(p types.ParameterSet) LoadOptions {
	return LoadOptions{ContextSize: p.ContextSize, BatchSize: p.BatchSize, Threads: p.ThreadCount}
}

// Options configures an engine instance.
type Options struct {
	GPULayers int
	MMap      bool
	F16Memory bool
	// MaxTokens caps each generation.
	MaxTokens int
	// Seed for sampling; 0 lets the runtime choose.
	Seed int
	// AuthToken, when set, is sent as a bearer token on downloads (HF_TOKEN).
	AuthToken  string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

var (
	// ErrNotLoaded is returned by calls that need a model handle when none exists.
	ErrNotLoaded = errors.New("model not loaded")
	// ErrAlreadyLoaded is returned by Load when a handle already exists.
	ErrAlreadyLoaded = errors.New("model already loaded")
)

// unavailableError reports that the runtime is not part of this build.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing runtime dependency.
func IsUnavailable(err error) bool {
	var u unavailableError
	return errors.As(err, &u)
}
