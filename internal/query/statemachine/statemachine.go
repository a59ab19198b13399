// Package statemachine owns the lifecycle of one query session connection.
package statemachine

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/carthingy/carthingy/internal/query/model"
	fsmutil "github.com/carthingy/carthingy/internal/pkg/util/fsm"
	"github.com/carthingy/carthingy/pkg/log"
)

const (
	// EventStart (Active) opens a fresh session from Idle or any terminal phase.
	EventStart = "event_start"
	// EventReceive marks a successfully received line.
	EventReceive = "event_receive"
	// EventComplete handles the backend's terminal marker.
	EventComplete = "event_complete"
	// EventFail carries a transport or backend failure reason as its first argument.
	EventFail = "event_fail"
	// EventClose (Active) is the caller cancelling the session.
	EventClose = "event_close"
)

// StateMachine is the session lifecycle:
//
//	Idle ──start──▶ Connecting ──receive──▶ Streaming ──complete──▶ Completed
//	                    │                      │
//	                    └────────fail──────────┴──▶ Failed
//	Idle/Connecting/Streaming ──close──▶ Closed
//	Completed/Failed/Closed ──start──▶ Connecting
//
// It is not safe for concurrent use; the owning session serializes calls.
type StateMachine struct {
	fsm    *fsm.FSM
	reason string
	logger log.Logger
}

// New returns a machine in PhaseIdle.
func New(logger log.Logger) *StateMachine {
	if logger == nil {
		logger = log.Std()
	}
	m := &StateMachine{logger: logger.WithName("statemachine")}

	var (
		idle       = string(model.PhaseIdle)
		connecting = string(model.PhaseConnecting)
		streaming  = string(model.PhaseStreaming)
		completed  = string(model.PhaseCompleted)
		failed     = string(model.PhaseFailed)
		closed     = string(model.PhaseClosed)
	)

	events := fsm.Events{
		{Name: EventStart, Src: []string{idle, completed, failed, closed}, Dst: connecting},
		{Name: EventReceive, Src: []string{connecting, streaming}, Dst: streaming},
		{Name: EventComplete, Src: []string{streaming, completed}, Dst: completed},
		{Name: EventFail, Src: []string{connecting, streaming}, Dst: failed},
		{Name: EventClose, Src: []string{idle, connecting, streaming}, Dst: closed},
	}

	callbacks := fsm.Callbacks{
		"enter_" + connecting: fsmutil.WrapEvent(m.actionEnterConnecting),
		"enter_" + failed:     fsmutil.WrapEvent(m.actionEnterFailed),
		"enter_state":         m.logTransition,
	}

	m.fsm = fsm.NewFSM(idle, events, callbacks)
	return m
}

// Phase returns the current phase.
func (m *StateMachine) Phase() model.Phase {
	return model.Phase(m.fsm.Current())
}

// Reason returns the failure reason while in PhaseFailed.
func (m *StateMachine) Reason() string {
	return m.reason
}

// Start moves to Connecting. It fails while a connection is active.
func (m *StateMachine) Start(ctx context.Context) error {
	if m.Phase().IsActive() {
		return model.ErrSessionActive
	}
	_, err := m.fire(ctx, EventStart)
	return err
}

// Receive records an inbound line; it reports whether the phase changed.
func (m *StateMachine) Receive(ctx context.Context) (bool, error) {
	return m.fire(ctx, EventReceive)
}

// Complete handles the terminal marker. Completing twice is a no-op.
func (m *StateMachine) Complete(ctx context.Context) (bool, error) {
	return m.fire(ctx, EventComplete)
}

// Fail moves to Failed with reason.
func (m *StateMachine) Fail(ctx context.Context, reason string) (bool, error) {
	return m.fire(ctx, EventFail, reason)
}

// Close moves a non-terminal session to Closed. Closing a terminal session is a no-op.
func (m *StateMachine) Close(ctx context.Context) (bool, error) {
	if m.Phase().IsTerminal() {
		return false, nil
	}
	return m.fire(ctx, EventClose)
}

func (m *StateMachine) fire(ctx context.Context, event string, args ...any) (bool, error) {
	if err := m.fsm.Event(ctx, event, args...); err != nil {
		if fsmutil.IsNoTransition(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s in phase %s: %w", event, m.Phase(), err)
	}
	return true, nil
}

// actionEnterConnecting is a "Side-Effect" callback.
// It clears what the previous session left behind.
func (m *StateMachine) actionEnterConnecting(_ context.Context, _ *fsm.Event) error {
	m.reason = ""
	return nil
}

// actionEnterFailed is a "Side-Effect" callback.
func (m *StateMachine) actionEnterFailed(_ context.Context, e *fsm.Event) error {
	reason, ok := fsmutil.StringArg(e, 0)
	if !ok || reason == "" {
		reason = "unknown error"
	}
	m.reason = reason
	return nil
}

func (m *StateMachine) logTransition(_ context.Context, e *fsm.Event) {
	m.logger.Debug("Session phase changed", "event", e.Event, "from", e.Src, "to", e.Dst)
}
