package app

import (
	"fmt"
	"io"
	"sync"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
)

// progressWriter prints phase changes and new session log lines as they arrive.
type progressWriter struct {
	out io.Writer

	mu      sync.Mutex
	session string
	phase   model.Phase
	logged  int
}

var _ session.Observer = (*progressWriter)(nil)

func (p *progressWriter) OnUpdate(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.SessionID != p.session {
		p.session, p.phase, p.logged = snap.SessionID, "", 0
	}
	for _, line := range snap.Log[min(p.logged, len(snap.Log)):] {
		fmt.Fprintf(p.out, "[%3.0f%%] %s\n", snap.State.Percentage, line)
	}
	p.logged = len(snap.Log)

	if snap.State.Phase != p.phase {
		p.phase = snap.State.Phase
		fmt.Fprintf(p.out, "[%3.0f%%] -> %s\n", snap.State.Percentage, snap.State)
	}
}
