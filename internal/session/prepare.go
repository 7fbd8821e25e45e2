package session

import (
	"context"

	"pocketllm/internal/engine"
	"pocketllm/pkg/types"
)

// Prepare opens url into modelsDir with p pushed before the session turns
// ready, and waits for it. Giving up on ctx leaves the native work running.
func (s *Session) Prepare(ctx context.Context, url, modelsDir string, p types.ParameterSet) (string, error) {
	op, err := s.Open(url, modelsDir, engine.LoadOptionsFrom(p), WithParameters(p))
	if err != nil {
		return "", err
	}
	return op.Wait(ctx)
}
