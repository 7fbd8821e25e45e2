package session

import (
	"context"

	"github.com/google/uuid"
)

// Operation tracks one accepted session call until it completes.
type Operation struct {
	ID   string
	Kind Kind

	done   chan struct{}
	result string
	err    error
}

func newOperation(kind Kind) *Operation {
	return &Operation{ID: uuid.NewString(), Kind: kind, done: make(chan struct{})}
}

// completedOperation returns an operation that is already finished.
func completedOperation(kind Kind, result string) *Operation {
	op := newOperation(kind)
	op.finish(result, nil)
	return op
}

func (o *Operation) finish(result string, err error) {
	o.result, o.err = result, err
	close(o.done)
}

// Done is closed when the operation has completed.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (o *Operation) Result() (string, error) {
	select {
	case <-o.done:
		return o.result, o.err
	default:
		return "", nil
	}
}

// Wait blocks until the operation completes or ctx is done. Giving up on
// ctx does not stop the native call.
func (o *Operation) Wait(ctx context.Context) (string, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
