package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Listener receives progress fractions in [0,1].
type Listener interface {
	OnProgress(fraction float64)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(fraction float64)

// OnProgress calls f(fraction).
func (f ListenerFunc) OnProgress(fraction float64) { f(fraction) }

type slot struct{ l Listener }

// Bridge holds at most one Listener and forwards progress to it on an
// Executor. With no listener registered, progress is dropped.
type Bridge struct {
	exec Executor
	cur  atomic.Pointer[slot]
	log  zerolog.Logger
}

// NewBridge returns a Bridge delivering on exec.
func NewBridge(exec Executor, log zerolog.Logger) *Bridge {
	return &Bridge{exec: exec, log: log.With().Str("component", "progress").Logger()}
}

// SetListener replaces the current listener. nil disables delivery.
func (b *Bridge) SetListener(l Listener) {
	if l == nil {
		b.cur.Store(nil)
		return
	}
	b.cur.Store(&slot{l: l})
}

// Listener returns the registered listener, or nil.
func (b *Bridge) Listener() Listener {
	if s := b.cur.Load(); s != nil {
		return s.l
	}
	return nil
}

// Dispatch posts fraction to the listener registered at call time. It never
// runs the listener on the calling goroutine and never panics.
func (b *Bridge) Dispatch(fraction float64) {
	s := b.cur.Load()
	if s == nil {
		return
	}
	f := Clamp(fraction)
	b.exec.Post(func() { b.deliver(s.l, f) })
}

// DispatchBytes converts a downloaded/total pair to a fraction. An unknown
// total (<= 0) is not reported.
func (b *Bridge) DispatchBytes(downloaded, total int64) {
	if total <= 0 {
		return
	}
	b.Dispatch(float64(downloaded) / float64(total))
}

func (b *Bridge) deliver(l Listener, f float64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Str("panic", fmt.Sprint(r)).Float64("progress", f).Msg("progress listener panicked")
		}
	}()
	l.OnProgress(f)
}

// Clamp limits f to [0,1]; NaN becomes 0.
func Clamp(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
