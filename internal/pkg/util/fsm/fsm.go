package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback; a non-nil
// error is recorded on the event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Guard adapts a predicate to a before_<event> callback that cancels the
// transition when allow returns false.
func Guard(allow func(ctx context.Context, event *fsm.Event) bool) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if !allow(ctx, event) {
			event.Cancel()
		}
	}
}

// IsRejected reports whether err means the event was refused (guard cancel,
// wrong source state, or no state change) rather than a callback failure.
func IsRejected(err error) bool {
	var (
		canceled     fsm.CanceledError
		invalid      fsm.InvalidEventError
		noTransition fsm.NoTransitionError
		inTrans      fsm.InTransitionError
	)
	return errors.As(err, &canceled) ||
		errors.As(err, &invalid) ||
		errors.As(err, &noTransition) ||
		errors.As(err, &inTrans)
}
