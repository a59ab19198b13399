package transport

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
)

// Replay plays back a recorded transcript, one inbound line per transcript line.
// Lines starting with '#' and blank lines are skipped. The query line sent by
// the session is kept in Sent.
type Replay struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	closer  io.Closer
	sent    []string
	closed  chan struct{}
}

var (
	_ Dialer = (*Replay)(nil)
	_ Conn   = (*Replay)(nil)
)

// NewReplay returns a transport reading from r. If r is an io.Closer it is closed with the connection.
func NewReplay(r io.Reader) *Replay {
	rp := &Replay{scanner: bufio.NewScanner(r), closed: make(chan struct{})}
	if c, ok := r.(io.Closer); ok {
		rp.closer = c
	}
	return rp
}

// Dial returns the replay itself; a transcript can only be played once.
func (r *Replay) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Replay) Send(_ context.Context, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.closed:
		return ErrClosed
	default:
	}
	r.sent = append(r.sent, line)
	return nil
}

func (r *Replay) Receive(ctx context.Context) (string, error) {
	for {
		select {
		case <-r.closed:
			return "", ErrClosed
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		line := r.scanner.Text()
		if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return line, nil
	}
}

func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.closed:
		return nil
	default:
	}
	close(r.closed)
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Sent returns the lines the session sent.
func (r *Replay) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}
