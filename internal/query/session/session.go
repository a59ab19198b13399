// Package session exposes a running vehicle query as an observable object.
//
// A Session composes the codec, the aggregator and the state machine over a
// transport connection. Every inbound line is decoded, folded into the record
// and applied to the state machine before exactly one Snapshot is delivered
// to the observers.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carthingy/carthingy/internal/pkg/metrics"
	"github.com/carthingy/carthingy/internal/query/aggregator"
	"github.com/carthingy/carthingy/internal/query/codec"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/statemachine"
	"github.com/carthingy/carthingy/internal/query/transport"
	"github.com/carthingy/carthingy/pkg/log"
)

const alertTitle = "Query failed"

// Session is one query facade. It runs at most one session at a time.
//
// Start and Close must not be called concurrently on the same Session.
type Session struct {
	dialer transport.Dialer
	logger log.Logger

	// procMu serializes every mutation together with its notification.
	procMu sync.Mutex

	// mu guards the fields below.
	mu         sync.Mutex
	sm         *statemachine.StateMachine
	generation uint64
	id         string
	query      model.Query
	record     model.VehicleRecord
	logLines   []string
	percentage float64
	alert      *Alert
	err        error
	startedAt  time.Time
	finished   bool
	cancel     context.CancelFunc
	conn       transport.Conn
	done       chan struct{}

	nextObserver int
	observers    map[int]Observer
}

// New returns an idle session that connects through dialer.
func New(dialer transport.Dialer, logger log.Logger) *Session {
	if logger == nil {
		logger = log.Std()
	}
	logger = logger.WithName("session")
	return &Session{
		dialer:    dialer,
		logger:    logger,
		sm:        statemachine.New(logger),
		record:    model.NewVehicleRecord(),
		observers: make(map[int]Observer),
	}
}

// Subscribe registers o and returns a function removing it.
func (s *Session) Subscribe(o Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = o
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Start opens a new session for q and returns without waiting for the backend.
// An active session is torn down first; record, log, percentage and alert are reset.
// The session is closed when ctx is done.
func (s *Session) Start(ctx context.Context, q model.Query) error {
	line, err := codec.EncodeQuery(q)
	if err != nil {
		return err
	}
	q.Identifier = q.NormalizedIdentifier()

	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	if s.sm.Phase().IsActive() {
		if _, err := s.sm.Close(ctx); err != nil {
			s.mu.Unlock()
			return err
		}
		s.teardownLocked()
	}

	if err := s.sm.Start(ctx); err != nil {
		s.mu.Unlock()
		return err
	}

	s.generation++
	gen := s.generation
	s.id = uuid.NewString()
	s.query = q
	s.record = model.NewVehicleRecord()
	s.logLines = nil
	s.percentage = 0
	s.alert = nil
	s.err = nil
	s.startedAt = time.Now()
	s.finished = false
	s.conn = nil

	sessCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	logger := s.logger.WithValues(log.Session(s.id), "query", q.Identifier)
	snap, observers := s.snapshotLocked()
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	logger.Info("Query session started", "known", q.Known, "freeText", q.FreeText)
	notify(observers, snap)

	go s.run(log.NewContext(sessCtx, logger), gen, line, done)
	return nil
}

// Close cancels the running session. Lines arriving afterwards are discarded.
// Closing a terminal session is a no-op.
func (s *Session) Close() {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	changed, err := s.sm.Close(context.Background())
	if err != nil {
		s.mu.Unlock()
		s.logger.Error(err, "Failed to close session")
		return
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	snap, observers := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Query session closed", log.Session(snap.SessionID))
	notify(observers, snap)
}

// Wait blocks until the current session reaches a terminal phase or ctx is done.
// A failed session returns its *model.TransportError or *model.BackendError.
func (s *Session) Wait(ctx context.Context) (model.SessionState, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return s.State(), model.ErrNotStarted
	}

	select {
	case <-done:
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(), s.err
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.snapshotLocked()
	return snap
}

func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) Record() model.VehicleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

func (s *Session) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logLines)
}

func (s *Session) Percentage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percentage
}

// Alert returns the pending failure alert, if any.
func (s *Session) Alert() *Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alert == nil {
		return nil
	}
	a := *s.alert
	return &a
}

// DismissAlert clears the pending alert. The failure reason stays in the state.
func (s *Session) DismissAlert() {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	if s.alert == nil {
		s.mu.Unlock()
		return
	}
	s.alert = nil
	snap, observers := s.snapshotLocked()
	s.mu.Unlock()
	notify(observers, snap)
}

func (s *Session) run(ctx context.Context, gen uint64, query string, done chan struct{}) {
	defer close(done)
	logger := log.FromContext(ctx)

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.closeFromContext(gen)
			return
		}
		logger.Error(err, "Failed to connect to query backend")
		s.fail(gen, &model.TransportError{Op: "dial", Err: err})
		return
	}
	defer conn.Close()
	// Transports may block in Receive without watching ctx.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.mu.Lock()
	if gen != s.generation || s.sm.Phase().IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if err := conn.Send(ctx, query); err != nil {
		if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
			s.closeFromContext(gen)
			return
		}
		logger.Error(err, "Failed to send query")
		s.fail(gen, &model.TransportError{Op: "send", Err: err})
		return
	}

	for {
		line, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				s.closeFromContext(gen)
				return
			}
			logger.Warn("Connection to query backend dropped", "error", err)
			s.fail(gen, &model.TransportError{Op: "receive", Err: fmt.Errorf("%w: %w", model.ErrConnectionDropped, err)})
			return
		}
		if stop := s.handleLine(ctx, gen, line); stop {
			return
		}
	}
}

// handleLine processes one inbound line and reports whether the reader should stop.
func (s *Session) handleLine(ctx context.Context, gen uint64, line string) bool {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	if gen != s.generation || s.sm.Phase().IsTerminal() {
		s.mu.Unlock()
		return true
	}
	logger := log.FromContext(ctx)

	msg, err := codec.Decode(line)
	metrics.LinesTotal.WithLabelValues(string(msg.Kind)).Inc()
	s.logLines = append(s.logLines, msg.Raw)
	if err != nil {
		metrics.ParseErrorsTotal.Inc()
		logger.Debug("Malformed line", "error", err)
		s.logLines = append(s.logLines, err.Error())
	}

	if _, err := s.sm.Receive(ctx); err != nil {
		logger.Error(err, "Unexpected state transition")
	}

	switch msg.Kind {
	case model.KindProgress:
		pct, verr := aggregator.Progress(s.percentage, msg.Percentage)
		s.percentage = pct
		s.violationLocked(logger, verr)

	case model.KindFieldUpdate, model.KindListAppend:
		rec, errs := aggregator.Apply(s.record, msg)
		s.record = rec
		for _, verr := range errs {
			s.violationLocked(logger, verr)
		}

	case model.KindError:
		berr := &model.BackendError{Reason: msg.Text}
		s.logLines = append(s.logLines, berr.Error())
		s.failLocked(ctx, berr, msg.Text)

	case model.KindDone:
		s.percentage = 100
		if _, err := s.sm.Complete(ctx); err != nil {
			logger.Error(err, "Unexpected state transition")
		}
	}

	terminal := s.sm.Phase().IsTerminal()
	if terminal {
		s.finishLocked()
	}
	snap, observers := s.snapshotLocked()
	conn := s.conn
	s.mu.Unlock()

	if terminal {
		logger.Info("Query session finished", "state", snap.State.String())
		if conn != nil {
			_ = conn.Close()
		}
	}
	notify(observers, snap)
	return terminal
}

func (s *Session) violationLocked(logger log.Logger, err error) {
	if err == nil {
		return
	}
	metrics.ProtocolViolationsTotal.Inc()
	logger.Debug("Protocol violation", "error", err)
	s.logLines = append(s.logLines, err.Error())
}

// fail moves the session to Failed unless it was superseded or already finished.
func (s *Session) fail(gen uint64, err error) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	if gen != s.generation || !s.sm.Phase().IsActive() {
		s.mu.Unlock()
		return
	}
	reason := err.Error()
	var terr *model.TransportError
	if errors.As(err, &terr) && errors.Is(err, model.ErrConnectionDropped) {
		reason = model.ReasonConnectionDropped
	}
	s.logLines = append(s.logLines, err.Error())
	s.failLocked(context.Background(), err, reason)
	s.finishLocked()
	snap, observers := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Query session finished", log.Session(snap.SessionID), "state", snap.State.String())
	notify(observers, snap)
}

func (s *Session) failLocked(ctx context.Context, err error, reason string) {
	if _, ferr := s.sm.Fail(ctx, reason); ferr != nil {
		s.logger.Error(ferr, "Unexpected state transition")
		return
	}
	s.err = err
	s.alert = &Alert{Title: alertTitle, Message: alertMessage(reason)}
}

// closeFromContext handles the reader stopping because its context ended.
func (s *Session) closeFromContext(gen uint64) {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	changed, err := s.sm.Close(context.Background())
	if err != nil || !changed {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	snap, observers := s.snapshotLocked()
	s.mu.Unlock()
	notify(observers, snap)
}

// teardownLocked releases the connection after a transition to Closed.
func (s *Session) teardownLocked() {
	s.generation++
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.finishLocked()
}

func (s *Session) finishLocked() {
	if s.finished || s.startedAt.IsZero() {
		return
	}
	s.finished = true
	phase := string(s.sm.Phase())
	metrics.SessionsActive.Dec()
	metrics.SessionsTotal.WithLabelValues(phase).Inc()
	metrics.SessionDuration.WithLabelValues(phase).Observe(time.Since(s.startedAt).Seconds())
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) stateLocked() model.SessionState {
	return model.SessionState{
		Phase:      s.sm.Phase(),
		Percentage: s.percentage,
		Reason:     s.sm.Reason(),
	}
}

func (s *Session) snapshotLocked() (Snapshot, []Observer) {
	snap := Snapshot{
		SessionID: s.id,
		Query:     s.query,
		State:     s.stateLocked(),
		Record:    s.record.Clone(),
		Log:       slices.Clone(s.logLines),
		StartedAt: s.startedAt,
	}
	if s.alert != nil {
		a := *s.alert
		snap.Alert = &a
	}

	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	return snap, observers
}

func notify(observers []Observer, snap Snapshot) {
	for _, o := range observers {
		o.OnUpdate(snap)
	}
}

func alertMessage(reason string) string {
	switch reason {
	case model.ReasonConnectionDropped:
		return "The connection to the vehicle registry was lost before the query finished."
	case "":
		return "The vehicle query failed."
	}
	return "The vehicle query failed: " + reason
}
