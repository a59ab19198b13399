package carthingy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/internal/query/transport"
	"github.com/carthingy/carthingy/pkg/log"
)

// Runner runs queries one at a time on a single long-lived session.
type Runner struct {
	session  *session.Session
	reporter *Reporter
	timeout  time.Duration
	logger   log.Logger

	mu sync.Mutex
}

// NewRunner returns a Runner dialing through dialer. reporter may be nil.
// A positive timeout closes sessions that run longer.
func NewRunner(dialer transport.Dialer, reporter *Reporter, timeout time.Duration, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.Std()
	}
	return &Runner{
		session:  session.New(dialer, logger),
		reporter: reporter,
		timeout:  timeout,
		logger:   logger.WithName("runner"),
	}
}

// Session is the facade runs happen on.
func (r *Runner) Session() *session.Session {
	return r.session
}

// Run starts q, waits for it to finish and reports the result.
// observers see every update of this run only. The returned error is the session's
// failure, a timeout or a reporting failure, in that order of precedence.
func (r *Runner) Run(ctx context.Context, q model.Query, observers ...session.Observer) (session.Snapshot, Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range observers {
		unsubscribe := r.session.Subscribe(o)
		defer unsubscribe()
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	if err := r.session.Start(runCtx, q); err != nil {
		return r.session.Snapshot(), Report{}, err
	}

	_, runErr := r.session.Wait(runCtx)
	if runCtx.Err() != nil {
		r.session.Close()
		switch {
		case ctx.Err() != nil:
			runErr = ctx.Err()
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			runErr = fmt.Errorf("query %s timed out after %s", q.Identifier, r.timeout)
		}
	}
	snap := r.session.Snapshot()

	var rep Report
	if r.reporter != nil && snap.State.Phase.IsTerminal() {
		reportCtx := context.WithoutCancel(ctx)
		var err error
		rep, err = r.reporter.Report(reportCtx, snap)
		if err != nil {
			r.logger.Error(err, "Failed to report session", log.Session(snap.SessionID))
			if runErr == nil {
				runErr = err
			}
		}
	}
	return snap, rep, runErr
}
