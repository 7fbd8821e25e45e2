package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pocketllm/internal/engine"
	"pocketllm/internal/progress"
	"pocketllm/pkg/types"
)

// fakeEngine records native calls. A non-nil gate blocks Generate until it
// is closed; paramsGate does the same for SetParameters.
type fakeEngine struct {
	mu         sync.Mutex
	calls      []string
	fetchSeq   []float64
	fetchErr   error
	loadErr    error
	paramsErr  error
	genErr     error
	genText    string
	genTokens  []string
	gate       chan struct{}
	paramsGate chan struct{}
	loaded     bool
	params     types.ParameterSet
	lastLoad   engine.LoadOptions
	prompts    []string
}

func (f *fakeEngine) record(c string) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Fetch(ctx context.Context, url, dest string, onProgress func(float64)) error {
	f.record("fetch")
	for _, p := range f.fetchSeq {
		onProgress(p)
	}
	if f.fetchErr != nil {
		return f.fetchErr
	}
	return os.WriteFile(dest, []byte("gguf"), 0o644)
}

func (f *fakeEngine) Load(path string, opts engine.LoadOptions) error {
	f.record("load")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLoad = opts
	if f.loadErr != nil {
		return f.loadErr
	}
	if f.loaded {
		return engine.ErrAlreadyLoaded
	}
	f.loaded = true
	return nil
}

func (f *fakeEngine) SetParameters(p types.ParameterSet) error {
	f.record("params")
	if f.paramsGate != nil {
		<-f.paramsGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paramsErr != nil {
		return f.paramsErr
	}
	f.params = p
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, prompt string, onToken func(string) bool) (string, error) {
	f.record("generate")
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	for _, t := range f.genTokens {
		if onToken != nil && !onToken(t) {
			break
		}
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.genText, nil
}

func (f *fakeEngine) Unload() error {
	f.record("unload")
	f.mu.Lock()
	f.loaded = false
	f.mu.Unlock()
	return nil
}

// newTestSession builds a session on a fresh loop and returns both.
func newTestSession(t *testing.T, eng engine.Engine) (*Session, *progress.Loop, *MemoryPublisher) {
	t.Helper()
	loop := progress.StartLoop()
	pub := NewMemoryPublisher()
	s, err := New(Config{Engine: eng, Executor: loop, Publisher: pub, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
		loop.Close()
	})
	return s, loop, pub
}

func wait(t *testing.T, op *Operation) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := op.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("operation %s did not complete", op.Kind)
	}
	return res, err
}

func flush(t *testing.T, loop *progress.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Flush(ctx))
}

// modelFile writes a small non-empty artifact and returns its path.
func modelFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "m.gguf")
	require.NoError(t, os.WriteFile(p, []byte("gguf"), 0o644))
	return p
}

// loadReady loads a model file and waits for ready.
func loadReady(t *testing.T, s *Session) string {
	t.Helper()
	p := modelFile(t)
	op, err := s.Load(p, engine.LoadOptions{ContextSize: 2048, BatchSize: 512, Threads: 4})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	require.Equal(t, StateReady, s.State())
	return p
}

func eventsOfType(evs []Event, typ EventType) []Event {
	var out []Event
	for _, e := range evs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func states(evs []Event) []State {
	var out []State
	for _, e := range eventsOfType(evs, EventStateChanged) {
		out = append(out, e.State)
	}
	return out
}
