package session

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pocketllm/internal/engine"
	"pocketllm/internal/progress"
)

// Config wires a Session.
type Config struct {
	Engine engine.Engine
	// Executor is the consumption context for events and progress. When nil
	// the session starts and owns a progress.Loop.
	Executor  progress.Executor
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// Session owns at most one native model handle and serializes every
// native call on a dedicated worker.
type Session struct {
	mu        sync.Mutex
	state     State
	inFlight  Kind
	hasHandle bool
	artifact  string
	lastErr   string
	progress  float64
	closed    bool
	idle      chan struct{} // closed when no operation is in flight

	eng       engine.Engine
	exec      progress.Executor
	ownedLoop *progress.Loop
	bridge    *progress.Bridge
	publisher EventPublisher
	log       zerolog.Logger

	work      chan func()
	stopped   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	shut      chan struct{}
	closeErr  error
}

// New constructs a session in the unloaded state and starts its worker.
func New(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("session: engine is required")
	}
	s := &Session{
		state:     StateUnloaded,
		eng:       cfg.Engine,
		exec:      cfg.Executor,
		publisher: cfg.Publisher,
		log:       cfg.Logger.With().Str("component", "session").Logger(),
		work:      make(chan func(), 1),
		stopped:   make(chan struct{}),
		shut:      make(chan struct{}),
	}
	if s.exec == nil {
		s.ownedLoop = progress.StartLoop()
		s.exec = s.ownedLoop
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	s.idle = make(chan struct{})
	close(s.idle)
	s.bridge = progress.NewBridge(s.exec, s.log)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	observeState(StateUnloaded)
	go s.runWorker()
	return s, nil
}

// runWorker executes native calls one at a time on a single OS thread so a
// runtime with thread affinity always sees the same caller.
func (s *Session) runWorker() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(s.stopped)
	for fn := range s.work {
		fn()
	}
}

// SetProgressListener installs the download progress listener. nil disables
// delivery. The listener in place when a report is dispatched receives it.
func (s *Session) SetProgressListener(l progress.Listener) { s.bridge.SetListener(l) }

// SetEventPublisher replaces the event sink. nil restores the no-op sink.
func (s *Session) SetEventPublisher(p EventPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = noopPublisher{}
	}
	s.publisher = p
}

// Snapshot returns the current state without blocking on native work.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:        s.state,
		InFlight:     s.inFlight,
		HasHandle:    s.hasHandle,
		ArtifactPath: s.artifact,
		LastError:    s.lastErr,
		Progress:     s.progress,
	}
}

// State is shorthand for Snapshot().State.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether Generate would be accepted right now.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && s.inFlight == "" && !s.closed
}

// Close rejects new calls, cancels the context passed to in-flight native
// calls, waits for the in-flight operation, frees any handle and stops the
// worker. It is safe to call more than once; a ctx that expires first leaves
// the shutdown running in the background.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		idle := s.idle
		s.mu.Unlock()
		s.cancel()
		go s.shutdown(idle)
	})
	select {
	case <-s.shut:
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) shutdown(idle <-chan struct{}) {
	defer close(s.shut)
	<-idle

	s.mu.Lock()
	free := s.hasHandle || s.state == StateFailed
	s.mu.Unlock()
	if free {
		done := make(chan struct{})
		s.work <- func() {
			defer close(done)
			s.closeErr = s.callNative(KindUnload, s.eng.Unload)
		}
		<-done
		s.mu.Lock()
		s.hasHandle = false
		s.artifact = ""
		s.setStateLocked(StateUnloaded)
		s.mu.Unlock()
	}
	close(s.work)
	<-s.stopped
	if s.ownedLoop != nil {
		s.ownedLoop.Close()
	}
	s.log.Debug().Msg("session closed")
}

// beginLocked admits an operation. The caller holds s.mu.
func (s *Session) beginLocked(kind Kind, allowed ...State) error {
	if s.closed {
		return ErrClosed
	}
	if s.inFlight != "" {
		busyRejections.WithLabelValues(string(kind)).Inc()
		return busyError{requested: kind, inFlight: s.inFlight}
	}
	for _, st := range allowed {
		if s.state == st {
			s.inFlight = kind
			s.idle = make(chan struct{})
			return nil
		}
	}
	return invalidStateError{op: kind, state: s.state}
}

// endLocked clears the in-flight marker. The caller holds s.mu.
func (s *Session) endLocked() {
	s.inFlight = ""
	close(s.idle)
}

// setStateLocked records a transition and publishes it. The caller holds s.mu
// so publication order matches transition order.
func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	observeState(to)
	s.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state")
	s.publishLocked(Event{Type: EventStateChanged, State: to})
}

// publishLocked posts e to the consumption context.
func (s *Session) publishLocked(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	pub := s.publisher
	log := s.log
	s.exec.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("event", string(e.Type)).Msg("event publisher panicked")
			}
		}()
		pub.Publish(e)
	})
}

func (s *Session) publish(e Event) {
	s.mu.Lock()
	s.publishLocked(e)
	s.mu.Unlock()
}

// submit hands fn to the worker. The in-flight marker guarantees the
// buffered channel has room.
func (s *Session) submit(fn func()) { s.work <- fn }

// callNative runs fn, converting a panic into an EngineError.
func (s *Session) callNative(kind Kind, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
		operationDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
		if err != nil {
			operationsTotal.WithLabelValues(string(kind), "error").Inc()
			err = &EngineError{Kind: kind, Err: err}
		} else {
			operationsTotal.WithLabelValues(string(kind), "ok").Inc()
		}
	}()
	return fn()
}
