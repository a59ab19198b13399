// Package transport provides the line-oriented connections a query session runs over.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive and Send after the connection was closed locally.
var ErrClosed = errors.New("transport: connection closed")

// Dialer opens a connection to the query backend.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a bidirectional, line-oriented connection.
//
// Receive blocks until a complete line arrives, the peer goes away (io.EOF)
// or the connection is closed. Close is safe to call from another goroutine
// and must unblock a pending Receive.
type Conn interface {
	Send(ctx context.Context, line string) error
	Receive(ctx context.Context) (string, error)
	Close() error
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }
