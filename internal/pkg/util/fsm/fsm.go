package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback by storing the error on the event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsNoTransition reports whether err only says the machine stayed in its current state.
func IsNoTransition(err error) bool {
	var nte fsm.NoTransitionError
	return errors.As(err, &nte) && nte.Err == nil
}

// StringArg returns the i-th event argument as text, accepting strings and errors.
func StringArg(e *fsm.Event, i int) (string, bool) {
	if len(e.Args) <= i || e.Args[i] == nil {
		return "", false
	}
	switch v := e.Args[i].(type) {
	case string:
		return v, true
	case error:
		return v.Error(), true
	}
	return "", false
}
