package session

import (
	"pocketllm/internal/common/fsutil"
	"pocketllm/internal/engine"
	"pocketllm/internal/progress"
	"pocketllm/pkg/types"
)

// LoadOption adjusts how a load finishes on the worker.
type LoadOption func(*loadPlan)

type loadPlan struct {
	params *types.ParameterSet
}

// WithParameters pushes p on the worker right after the handle is created,
// before the session reports ready, so no generate can run on the runtime's
// defaults in between.
func WithParameters(p types.ParameterSet) LoadOption {
	return func(lp *loadPlan) { lp.params = &p }
}

func newLoadPlan(opts []LoadOption) loadPlan {
	var lp loadPlan
	for _, o := range opts {
		if o != nil {
			o(&lp)
		}
	}
	return lp
}

// Open acquires the artifact for url into modelsDir (skipping the download
// when it is already present) and loads it.
func (s *Session) Open(url, modelsDir string, lo engine.LoadOptions, opts ...LoadOption) (*Operation, error) {
	dest, err := fsutil.ArtifactPath(modelsDir, url)
	if err != nil {
		return nil, err
	}
	return s.AcquireArtifact(url, dest, lo, opts...)
}

// AcquireArtifact downloads url to dest and, on success, loads it. A
// non-empty file already at dest skips the download and goes straight to
// loading. Progress is reported through the listener and as progress
// events; a failed download leaves the session failed.
func (s *Session) AcquireArtifact(url, dest string, lo engine.LoadOptions, opts ...LoadOption) (*Operation, error) {
	plan := newLoadPlan(opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(KindAcquire, StateUnloaded); err != nil {
		return nil, err
	}
	op := newOperation(KindAcquire)
	s.progress = 0
	s.lastErr = ""

	if fsutil.NonEmptyFile(dest) {
		s.log.Info().Str("path", dest).Msg("artifact present; skipping download")
		s.setStateLocked(StateLoading)
		s.submit(func() { s.runLoad(op, dest, lo, plan) })
		return op, nil
	}

	s.setStateLocked(StateAcquiring)
	s.log.Info().Str("url", url).Str("dest", dest).Msg("acquire start")
	s.submit(func() {
		onProgress := func(f float64) {
			f = progress.Clamp(f)
			s.mu.Lock()
			s.progress = f
			s.publishLocked(Event{Type: EventProgress, OperationID: op.ID, Kind: KindAcquire, Progress: f})
			s.mu.Unlock()
			s.bridge.Dispatch(f)
		}
		err := s.callNative(KindAcquire, func() error { return s.eng.Fetch(s.ctx, url, dest, onProgress) })
		if err != nil {
			s.log.Error().Err(err).Str("url", url).Msg("acquire failed")
			s.failAndEnd(op, KindAcquire, err)
			return
		}
		s.mu.Lock()
		s.publishLocked(Event{Type: EventOperationCompleted, OperationID: op.ID, Kind: KindAcquire, Result: dest})
		s.setStateLocked(StateLoading)
		s.mu.Unlock()
		s.runLoad(op, dest, lo, plan)
	})
	return op, nil
}

// Load creates the model handle from a local file. It is refused unless
// the session is unloaded; a failed session must be unloaded first.
func (s *Session) Load(path string, lo engine.LoadOptions, opts ...LoadOption) (*Operation, error) {
	plan := newLoadPlan(opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(KindLoad, StateUnloaded); err != nil {
		return nil, err
	}
	op := newOperation(KindLoad)
	s.lastErr = ""
	s.setStateLocked(StateLoading)
	s.submit(func() { s.runLoad(op, path, lo, plan) })
	return op, nil
}

// runLoad runs on the worker and finishes op. A parameter push that fails
// keeps the handle: the session still becomes ready and op carries the error.
func (s *Session) runLoad(op *Operation, path string, lo engine.LoadOptions, plan loadPlan) {
	s.log.Info().Str("path", path).Int("ctx", lo.ContextSize).Int("batch", lo.BatchSize).Int("threads", lo.Threads).Msg("load start")
	err := s.callNative(KindLoad, func() error { return s.eng.Load(path, lo) })
	if err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("load failed")
		s.failAndEnd(op, KindLoad, err)
		return
	}
	s.mu.Lock()
	s.hasHandle = true
	s.artifact = path
	s.publishLocked(Event{Type: EventOperationCompleted, OperationID: op.ID, Kind: KindLoad, Result: path})
	s.mu.Unlock()
	s.log.Info().Str("path", path).Msg("load ok")

	var perr error
	if plan.params != nil {
		p := *plan.params
		perr = s.callNative(KindParameters, func() error { return s.eng.SetParameters(p) })
		s.mu.Lock()
		if perr != nil {
			s.lastErr = perr.Error()
			s.publishLocked(Event{Type: EventOperationFailed, OperationID: op.ID, Kind: KindParameters, Err: perr.Error()})
		} else {
			s.publishLocked(Event{Type: EventOperationCompleted, OperationID: op.ID, Kind: KindParameters})
		}
		s.mu.Unlock()
		if perr != nil {
			s.log.Warn().Err(perr).Msg("set parameters after load failed")
		}
	}

	s.mu.Lock()
	s.setStateLocked(StateReady)
	s.endLocked()
	s.mu.Unlock()
	op.finish(path, perr)
}

// failAndEnd moves the session to failed and finishes op with err.
func (s *Session) failAndEnd(op *Operation, kind Kind, err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.publishLocked(Event{Type: EventOperationFailed, OperationID: op.ID, Kind: kind, Err: err.Error()})
	s.setStateLocked(StateFailed)
	s.endLocked()
	s.mu.Unlock()
	op.finish("", err)
}

// ApplyParameters pushes the whole vector to the loaded model. The state is
// unchanged either way; a failure is reported on the operation and as an
// event.
func (s *Session) ApplyParameters(p types.ParameterSet) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(KindParameters, StateReady); err != nil {
		return nil, err
	}
	op := newOperation(KindParameters)
	s.submit(func() {
		err := s.callNative(KindParameters, func() error { return s.eng.SetParameters(p) })
		s.mu.Lock()
		if err != nil {
			s.lastErr = err.Error()
			s.publishLocked(Event{Type: EventOperationFailed, OperationID: op.ID, Kind: KindParameters, Err: err.Error()})
		} else {
			s.publishLocked(Event{Type: EventOperationCompleted, OperationID: op.ID, Kind: KindParameters})
		}
		s.endLocked()
		s.mu.Unlock()
		if err != nil {
			s.log.Warn().Err(err).Msg("set parameters failed")
		}
		op.finish("", err)
	})
	return op, nil
}

// Generate runs one completion over an already-rendered prompt. Tokens are
// published as they arrive; the full text is the operation result. The
// session returns to ready whether or not the engine succeeds.
func (s *Session) Generate(prompt string) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.beginLocked(KindGenerate, StateReady); err != nil {
		return nil, err
	}
	op := newOperation(KindGenerate)
	s.setStateLocked(StateGenerating)
	s.submit(func() {
		onToken := func(tok string) bool {
			s.publish(Event{Type: EventToken, OperationID: op.ID, Kind: KindGenerate, Token: tok})
			return s.ctx.Err() == nil
		}
		var text string
		err := s.callNative(KindGenerate, func() error {
			var gerr error
			text, gerr = s.eng.Generate(s.ctx, prompt, onToken)
			return gerr
		})
		s.mu.Lock()
		if err != nil {
			text = ""
			s.lastErr = err.Error()
			s.publishLocked(Event{Type: EventOperationFailed, OperationID: op.ID, Kind: KindGenerate, Err: err.Error()})
		} else {
			s.publishLocked(Event{Type: EventOperationCompleted, OperationID: op.ID, Kind: KindGenerate, Result: text})
		}
		s.setStateLocked(StateReady)
		s.endLocked()
		s.mu.Unlock()
		if err != nil {
			s.log.Warn().Err(err).Msg("generate failed")
		}
		op.finish(text, err)
	})
	return op, nil
}

// Unload frees the handle and returns to unloaded. It is accepted from
// ready and failed; on an unloaded session it completes immediately
// without a native call.
func (s *Session) Unload() (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.inFlight == "" && s.state == StateUnloaded {
		return completedOperation(KindUnload, ""), nil
	}
	if err := s.beginLocked(KindUnload, StateReady, StateFailed); err != nil {
		return nil, err
	}
	op := newOperation(KindUnload)
	s.setStateLocked(StateUnloading)
	s.submit(func() {
		err := s.callNative(KindUnload, s.eng.Unload)
		s.mu.Lock()
		s.hasHandle = false
		s.artifact = ""
		s.progress = 0
		s.lastErr = ""
		if err != nil {
			s.lastErr = err.Error()
			s.publishLocked(Event{Type: EventOperationFailed, OperationID: op.ID, Kind: KindUnload, Err: err.Error()})
		} else {
			s.publishLocked(Event{Type: EventOperationCompleted, OperationID: op.ID, Kind: KindUnload})
		}
		s.setStateLocked(StateUnloaded)
		s.endLocked()
		s.mu.Unlock()
		op.finish("", err)
	})
	return op, nil
}
