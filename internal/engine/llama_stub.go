//go:build !llama

package engine

// No-CGO stub compiled when the 'llama' build tag is not set, keeping
// default builds and CI CGO-free. Downloads still work; Load reports the
// runtime as unavailable.

import (
	"context"

	"pocketllm/pkg/types"
)

const llamaBuilt = false

const stubMsg = "llama support not built (missing 'llama' build tag)"

type stubEngine struct {
	*Fetcher
}

// New returns the stub engine for builds without the llama tag.
func New(opts Options) Engine {
	log := opts.Logger.With().Str("component", "engine").Logger()
	return &stubEngine{Fetcher: NewFetcher(opts.HTTPClient, opts.AuthToken, log)}
}

func (s *stubEngine) Load(path string, opts LoadOptions) error { return ErrUnavailable(stubMsg) }

func (s *stubEngine) SetParameters(p types.ParameterSet) error { return ErrNotLoaded }

func (s *stubEngine) Generate(ctx context.Context, prompt string, onToken func(string) bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNotLoaded
}

func (s *stubEngine) Unload() error { return nil }
