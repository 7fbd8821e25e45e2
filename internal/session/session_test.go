package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pocketllm/internal/engine"
	"pocketllm/internal/progress"
	"pocketllm/pkg/types"
)

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_StartsUnloaded(t *testing.T) {
	s, _, _ := newTestSession(t, &fakeEngine{})
	snap := s.Snapshot()
	assert.Equal(t, StateUnloaded, snap.State)
	assert.False(t, snap.HasHandle)
	assert.Empty(t, snap.InFlight)
	assert.False(t, s.Ready())
}

func TestGenerate_WhileGeneratingIsBusy(t *testing.T) {
	eng := &fakeEngine{gate: make(chan struct{}), genText: "ok"}
	s, _, _ := newTestSession(t, eng)
	loadReady(t, s)

	op, err := s.Generate("first")
	require.NoError(t, err)
	require.Equal(t, StateGenerating, s.State())

	_, err = s.Generate("second")
	require.Error(t, err)
	assert.True(t, IsBusy(err), "want busy, got %v", err)

	_, err = s.ApplyParameters(types.ParameterSet{})
	assert.True(t, IsBusy(err))
	_, err = s.Unload()
	assert.True(t, IsBusy(err))

	close(eng.gate)
	res, err := wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, StateReady, s.State())

	var n int
	for _, c := range eng.Calls() {
		if c == "generate" {
			n++
		}
	}
	assert.Equal(t, 1, n, "rejected call must not reach the engine")
}

func TestGenerate_AfterUnloadIsRejected(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	loadReady(t, s)

	op, err := s.Unload()
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	require.Equal(t, StateUnloaded, s.State())

	_, err = s.Generate("hello")
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
	assert.Equal(t, []string{"load", "unload"}, eng.Calls())
}

func TestGenerate_ReturnsTextAndPublishesInOrder(t *testing.T) {
	eng := &fakeEngine{genText: "Hi there", genTokens: []string{"Hi", " there"}}
	s, loop, pub := newTestSession(t, eng)
	loadReady(t, s)

	op, err := s.Generate("hello")
	require.NoError(t, err)
	res, err := wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res)
	assert.Equal(t, StateReady, s.State())

	flush(t, loop)
	evs := pub.Events()
	assert.Equal(t, []State{StateLoading, StateReady, StateGenerating, StateReady}, states(evs))
	toks := eventsOfType(evs, EventToken)
	require.Len(t, toks, 2)
	assert.Equal(t, "Hi", toks[0].Token)
	assert.Equal(t, op.ID, toks[1].OperationID)

	done := eventsOfType(evs, EventOperationCompleted)
	require.NotEmpty(t, done)
	last := done[len(done)-1]
	assert.Equal(t, KindGenerate, last.Kind)
	assert.Equal(t, "Hi there", last.Result)
	assert.Equal(t, []string{"hello"}, eng.prompts)
}

func TestGenerate_EngineErrorReturnsToReady(t *testing.T) {
	eng := &fakeEngine{genErr: errors.New("llama_decode failed: -1")}
	s, loop, pub := newTestSession(t, eng)
	loadReady(t, s)

	op, err := s.Generate("x")
	require.NoError(t, err)
	_, err = wait(t, op)
	require.Error(t, err)
	assert.True(t, IsEngineError(err))
	assert.Equal(t, "llama_decode failed: -1", err.Error())
	assert.Equal(t, StateReady, s.State())
	assert.True(t, s.Snapshot().HasHandle)

	flush(t, loop)
	failed := eventsOfType(pub.Events(), EventOperationFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, KindGenerate, failed[0].Kind)
}

func TestAcquire_ProgressDeliveredThenLoad(t *testing.T) {
	eng := &fakeEngine{fetchSeq: []float64{0, 0.5, 1}}
	s, loop, pub := newTestSession(t, eng)

	var mu sync.Mutex
	var got []float64
	s.SetProgressListener(progress.ListenerFunc(func(f float64) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}))

	dest := filepath.Join(t.TempDir(), "model.gguf")
	op, err := s.AcquireArtifact("https://example.com/model.gguf", dest, engine.LoadOptions{ContextSize: 1024})
	require.NoError(t, err)
	res, err := wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, dest, res)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, dest, s.Snapshot().ArtifactPath)
	assert.Equal(t, 1024, eng.lastLoad.ContextSize)

	flush(t, loop)
	mu.Lock()
	assert.Equal(t, []float64{0, 0.5, 1}, got)
	mu.Unlock()

	evs := pub.Events()
	var seq []string
	for _, e := range evs {
		switch e.Type {
		case EventProgress:
			seq = append(seq, "progress")
		case EventStateChanged:
			seq = append(seq, string(e.State))
		}
	}
	assert.Equal(t, []string{"acquiring", "progress", "progress", "progress", "loading", "ready"}, seq)
	assert.Equal(t, []string{"fetch", "load"}, eng.Calls())
}

func TestAcquire_SkipsDownloadWhenPresent(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	p := modelFile(t)

	op, err := s.AcquireArtifact("https://example.com/m.gguf", p, engine.LoadOptions{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, []string{"load"}, eng.Calls())
}

func TestAcquire_EmptyFileIsDownloadedAgain(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	p := filepath.Join(t.TempDir(), "m.gguf")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	op, err := s.AcquireArtifact("https://example.com/m.gguf", p, engine.LoadOptions{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "load"}, eng.Calls())
}

func TestAcquire_FetchErrorFails(t *testing.T) {
	eng := &fakeEngine{fetchErr: errors.New("HTTP 404 Not Found")}
	s, _, _ := newTestSession(t, eng)

	op, err := s.AcquireArtifact("https://example.com/missing.gguf", filepath.Join(t.TempDir(), "x.gguf"), engine.LoadOptions{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "HTTP 404 Not Found", snap.LastError)
	assert.Equal(t, []string{"fetch"}, eng.Calls())
}

func TestOpen_DerivesArtifactPath(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	dir := t.TempDir()

	op, err := s.Open("https://example.com/repo/resolve/main/tiny.gguf?download=true", dir, engine.LoadOptions{})
	require.NoError(t, err)
	res, err := wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tiny.gguf"), res)
}

func TestOpen_BadURL(t *testing.T) {
	s, _, _ := newTestSession(t, &fakeEngine{})
	_, err := s.Open("https://example.com/", t.TempDir(), engine.LoadOptions{})
	require.Error(t, err)
	assert.Equal(t, StateUnloaded, s.State())
}

func TestLoad_FailureThenUnloadThenRecover(t *testing.T) {
	eng := &fakeEngine{loadErr: errors.New("failed to load model")}
	s, _, _ := newTestSession(t, eng)
	p := modelFile(t)

	op, err := s.Load(p, engine.LoadOptions{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.Error(t, err)
	require.Equal(t, StateFailed, s.State())

	// failed refuses load and generate until acknowledged
	_, err = s.Load(p, engine.LoadOptions{})
	assert.True(t, IsInvalidState(err))
	_, err = s.Generate("x")
	assert.True(t, IsInvalidState(err))

	op, err = s.Unload()
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	require.Equal(t, StateUnloaded, s.State())
	assert.Empty(t, s.Snapshot().LastError)

	eng.mu.Lock()
	eng.loadErr = nil
	eng.mu.Unlock()
	op, err = s.Load(p, engine.LoadOptions{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []string{"load", "unload", "load"}, eng.Calls())
}

func TestLoad_WhileReadyIsRefused(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	p := loadReady(t, s)

	_, err := s.Load(p, engine.LoadOptions{})
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []string{"load"}, eng.Calls())
}

func TestApplyParameters(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)

	_, err := s.ApplyParameters(types.ParameterSet{})
	assert.True(t, IsInvalidState(err), "parameters need a handle")

	loadReady(t, s)
	p := types.ParameterSet{Temperature: 0.7, TopK: 40, MirostatMode: 2}
	op, err := s.ApplyParameters(p)
	require.NoError(t, err)
	_, err = wait(t, op)
	require.NoError(t, err)
	assert.Equal(t, p, eng.params)
	assert.Equal(t, StateReady, s.State())
}

func TestApplyParameters_FailureKeepsState(t *testing.T) {
	eng := &fakeEngine{paramsErr: errors.New("bad sampler")}
	s, _, _ := newTestSession(t, eng)
	loadReady(t, s)

	op, err := s.ApplyParameters(types.ParameterSet{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.Error(t, err)
	assert.True(t, IsEngineError(err))
	assert.Equal(t, StateReady, s.State())
}

func TestUnload_IdempotentWhenUnloaded(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	for i := 0; i < 2; i++ {
		op, err := s.Unload()
		require.NoError(t, err)
		_, err = wait(t, op)
		require.NoError(t, err)
	}
	assert.Empty(t, eng.Calls())
}

func TestUnload_FreesAtMostOnce(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	loadReady(t, s)
	for i := 0; i < 3; i++ {
		op, err := s.Unload()
		require.NoError(t, err)
		_, err = wait(t, op)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"load", "unload"}, eng.Calls())
	assert.False(t, s.Snapshot().HasHandle)
}

func TestEnginePanicBecomesEngineError(t *testing.T) {
	s, _, _ := newTestSession(t, panicEngine{&fakeEngine{}})
	p := modelFile(t)
	op, err := s.Load(p, engine.LoadOptions{})
	require.NoError(t, err)
	_, err = wait(t, op)
	require.Error(t, err)
	assert.True(t, IsEngineError(err))
	assert.Equal(t, StateFailed, s.State())
}

type panicEngine struct{ *fakeEngine }

func (panicEngine) Load(string, engine.LoadOptions) error { panic("boom") }

func TestPublisherPanicIsContained(t *testing.T) {
	eng := &fakeEngine{}
	s, loop, _ := newTestSession(t, eng)
	s.SetEventPublisher(PublisherFunc(func(Event) { panic("listener") }))
	loadReady(t, s)
	flush(t, loop)
	assert.Equal(t, StateReady, s.State())
}

func TestPrepare_OpensLoadsAndPushesParameters(t *testing.T) {
	eng := &fakeEngine{}
	s, _, _ := newTestSession(t, eng)
	dir := t.TempDir()
	p := types.ParameterSet{ContextSize: 4096, BatchSize: 256, ThreadCount: 2, Temperature: 0.3}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	path, err := s.Prepare(ctx, "https://example.com/a/b.gguf", dir, p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.gguf"), path)
	assert.Equal(t, []string{"fetch", "load", "params"}, eng.Calls())
	assert.Equal(t, engine.LoadOptions{ContextSize: 4096, BatchSize: 256, Threads: 2}, eng.lastLoad)
	assert.Equal(t, p, eng.params)
}

func TestLoad_WithParametersPushesBeforeReady(t *testing.T) {
	eng := &fakeEngine{paramsGate: make(chan struct{}), genText: "ok"}
	s, loop, pub := newTestSession(t, eng)
	p := types.ParameterSet{Temperature: 0.2, TopK: 12}

	op, err := s.Load(modelFile(t), engine.LoadOptions{}, WithParameters(p))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		calls := eng.Calls()
		return len(calls) == 2 && calls[1] == "params"
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Ready())
	assert.Equal(t, StateLoading, s.State())
	_, err = s.Generate("too early")
	assert.True(t, IsBusy(err), "got %v", err)

	close(eng.paramsGate)
	_, err = wait(t, op)
	require.NoError(t, err)
	assert.True(t, s.Ready())
	assert.Equal(t, p, eng.params)

	flush(t, loop)
	evs := pub.Events()
	assert.Equal(t, []State{StateLoading, StateReady}, states(evs))
	completed := eventsOfType(evs, EventOperationCompleted)
	require.Len(t, completed, 2)
	assert.Equal(t, KindLoad, completed[0].Kind)
	assert.Equal(t, KindParameters, completed[1].Kind)
	assert.Equal(t, op.ID, completed[1].OperationID)
}

func TestOpen_ParameterPushFailureKeepsHandle(t *testing.T) {
	eng := &fakeEngine{paramsErr: errors.New("bad sampler")}
	s, _, _ := newTestSession(t, eng)

	op, err := s.Open("https://example.com/m.gguf", t.TempDir(), engine.LoadOptions{}, WithParameters(types.ParameterSet{}))
	require.NoError(t, err)
	path, err := wait(t, op)
	require.Error(t, err)
	assert.True(t, IsEngineError(err))
	assert.Equal(t, "bad sampler", err.Error())
	assert.NotEmpty(t, path)

	snap := s.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.HasHandle)
	assert.Equal(t, "bad sampler", snap.LastError)
}
