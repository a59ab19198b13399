package model

import (
	"errors"
	"fmt"
)

// ReasonConnectionDropped is the failure reason for a transport closing before the terminal marker.
const ReasonConnectionDropped = "connection dropped"

var (
	ErrConnectionDropped = errors.New(ReasonConnectionDropped)
	ErrSessionActive     = errors.New("query session already active")
	ErrNotStarted        = errors.New("query session not started")
	ErrEmptyQuery        = errors.New("query identifier is empty")
)

// ParseError reports a single malformed line. It never fails a session.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed line %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports a connect failure or an unexpected disconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError carries the reason sent with the backend's error marker.
type BackendError struct {
	Reason string
}

func (e *BackendError) Error() string {
	return "backend error: " + e.Reason
}

// ProtocolViolation is a non-fatal deviation from the protocol, such as a progress regression.
type ProtocolViolation struct {
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: " + e.Detail
}
