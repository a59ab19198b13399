// Package server runs the long-lived parts of watch mode side by side.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/carthingy/carthingy/pkg/log"
)

// Runnable blocks until ctx is done or it fails.
type Runnable interface {
	Start(ctx context.Context) error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager runs a set of Runnables and stops them all when one returns.
type Manager struct {
	runnables []Runnable
	logger    log.Logger
}

// NewManager returns a Manager for runnables. Nil entries are skipped.
func NewManager(logger log.Logger, runnables ...Runnable) *Manager {
	if logger == nil {
		logger = log.Std()
	}
	m := &Manager{logger: logger}
	for _, r := range runnables {
		if r != nil {
			m.runnables = append(m.runnables, r)
		}
	}
	return m
}

// Add appends r.
func (m *Manager) Add(r Runnable) {
	m.runnables = append(m.runnables, r)
}

// Start launches every runnable and waits. The first one to return cancels the others;
// its error, if any, is returned.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, r := range m.runnables {
		g.Go(func() error {
			defer cancel()
			return r.Start(ctx)
		})
	}

	m.logger.Debug("All runnables starting", "count", len(m.runnables))
	return g.Wait()
}
