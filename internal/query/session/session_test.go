package session

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/transport"
	"github.com/carthingy/carthingy/pkg/log"
)

const waitTimeout = 2 * time.Second

type fakeConn struct {
	lines     chan string
	sent      chan string
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		lines:  make(chan string, 16),
		sent:   make(chan string, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(_ context.Context, line string) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.sent <- line
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (string, error) {
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-c.closed:
		return "", transport.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(lines ...string) {
	for _, l := range lines {
		c.lines <- l
	}
}

// recorder collects every snapshot delivered to observers.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) OnUpdate(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func newTestSession(t *testing.T, conn *fakeConn) (*Session, *recorder) {
	t.Helper()
	s := New(transport.DialerFunc(func(context.Context) (transport.Conn, error) {
		return conn, nil
	}), log.NewNopLogger())
	rec := &recorder{}
	s.Subscribe(rec)
	return s, rec
}

func waitFor(t *testing.T, s *Session) (model.SessionState, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	state, err := s.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return state, err
}

func eventuallyPhase(t *testing.T, s *Session, phase model.Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Phase == phase },
		waitTimeout, 5*time.Millisecond, "phase never became %s", phase)
}

func TestSession_ProgressiveResultsComplete(t *testing.T) {
	conn := newFakeConn()
	s, rec := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "abc-123"}))
	assert.Equal(t, "QUERY NEW PLATE ABC123", <-conn.sent)

	conn.push("PROGRESS 10", "brand: Toyota", "PROGRESS 55", "brand: unknown", "DONE")

	state, err := waitFor(t, s)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, state.Phase)
	assert.Equal(t, float64(100), state.Percentage)
	assert.Equal(t, "Toyota", s.Record().Brand)
	assert.True(t, conn.isClosed())
	assert.Nil(t, s.Alert())

	snaps := rec.all()
	require.Len(t, snaps, 6, "one notification for start plus one per line")
	assert.Equal(t, model.PhaseConnecting, snaps[0].State.Phase)
	assert.Equal(t, model.PhaseStreaming, snaps[1].State.Phase)
	assert.Equal(t, model.PhaseCompleted, snaps[5].State.Phase)

	last := float64(-1)
	for _, snap := range snaps {
		assert.GreaterOrEqual(t, snap.State.Percentage, last)
		last = snap.State.Percentage
		assert.Equal(t, snaps[0].SessionID, snap.SessionID)
	}
	assert.Equal(t, "Toyota", snaps[3].Record.Brand)
	assert.Equal(t, "Toyota", snaps[4].Record.Brand, "unknown never replaces a known value")
}

func TestSession_ConnectionDropped(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123", Known: true}))
	assert.Equal(t, "QUERY KNOWN PLATE ABC123", <-conn.sent)

	conn.push("PROGRESS 30", "model: Corolla")
	close(conn.lines)

	state, err := waitFor(t, s)
	assert.Equal(t, model.PhaseFailed, state.Phase)
	assert.Equal(t, model.ReasonConnectionDropped, state.Reason)
	assert.Equal(t, float64(30), state.Percentage)
	assert.ErrorIs(t, err, model.ErrConnectionDropped)

	var terr *model.TransportError
	assert.ErrorAs(t, err, &terr)

	assert.Equal(t, "Corolla", s.Record().Model)
	alert := s.Alert()
	require.NotNil(t, alert)
	assert.Equal(t, alertTitle, alert.Title)
	assert.NotEmpty(t, alert.Message)
}

func TestSession_CloseMidStreamThenRestart(t *testing.T) {
	conn := newFakeConn()
	s, rec := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("PROGRESS 20", "brand: Toyota", "LOG checking registry")
	require.Eventually(t, func() bool { return len(s.Log()) == 3 }, waitTimeout, 5*time.Millisecond)

	s.mu.Lock()
	oldGen := s.generation
	s.mu.Unlock()

	s.Close()
	assert.Equal(t, model.PhaseClosed, s.State().Phase)
	assert.True(t, conn.isClosed())

	state, err := waitFor(t, s)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseClosed, state.Phase)

	notified := len(rec.all())
	assert.True(t, s.handleLine(context.Background(), oldGen, "model: Corolla"))
	assert.Equal(t, model.Unknown, s.Record().Model, "lines after close are discarded")
	assert.Len(t, rec.all(), notified)

	s.Close()
	assert.Len(t, rec.all(), notified, "closing a terminal session is a no-op")

	next := newFakeConn()
	s.dialer = transport.DialerFunc(func(context.Context) (transport.Conn, error) { return next, nil })
	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "XYZ789"}))

	snap := s.Snapshot()
	assert.Equal(t, model.PhaseConnecting, snap.State.Phase)
	assert.Zero(t, snap.State.Percentage)
	assert.Empty(t, snap.Log)
	assert.Equal(t, model.Unknown, snap.Record.Brand)
	assert.Equal(t, "XYZ789", snap.Query.Identifier)
	s.Close()
}

func TestSession_GarbageLine(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("PROGRESS 40", "brand: Toyota", "###garbage###")

	require.Eventually(t, func() bool { return len(s.Log()) == 3 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, []string{"PROGRESS 40", "brand: Toyota", "###garbage###"}, s.Log())
	assert.Equal(t, float64(40), s.Percentage())
	assert.Equal(t, "Toyota", s.Record().Brand)
	assert.Equal(t, model.PhaseStreaming, s.State().Phase)
	s.Close()
}

func TestSession_MalformedLineIsLogged(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("PROGRESS abc", "mileage: yesterday")

	require.Eventually(t, func() bool { return len(s.Log()) == 4 }, waitTimeout, 5*time.Millisecond)
	logLines := s.Log()
	assert.Equal(t, "PROGRESS abc", logLines[0])
	assert.Contains(t, logLines[1], "malformed line")
	assert.Equal(t, "mileage: yesterday", logLines[2])
	assert.Contains(t, logLines[3], "malformed line")
	assert.Empty(t, s.Record().Mileage)
	assert.Equal(t, model.PhaseStreaming, s.State().Phase)
	s.Close()
}

func TestSession_ProgressRegressionIsIgnored(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("PROGRESS 50", "PROGRESS 20", "colour: red", "DONE")

	state, err := waitFor(t, s)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, state.Phase)
	assert.Equal(t, float64(100), state.Percentage)

	logLines := s.Log()
	require.Len(t, logLines, 6)
	assert.Equal(t, []string{"PROGRESS 50", "PROGRESS 20"}, logLines[:2])
	assert.Contains(t, logLines[2], "regressed")
	assert.Equal(t, "colour: red", logLines[3], "the raw value of an unknown key is kept")
	assert.Contains(t, logLines[4], "unknown field key")
	assert.Equal(t, "DONE", logLines[5])
}

func TestSession_NonFiniteProgressIsIgnored(t *testing.T) {
	conn := newFakeConn()
	s, rec := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("PROGRESS 40", "PROGRESS NaN", "PROGRESS +Inf", "PROGRESS 10", "PROGRESS 60")

	require.Eventually(t, func() bool { return len(rec.all()) == 6 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, float64(60), s.Percentage())

	last := float64(-1)
	for _, snap := range rec.all() {
		p := snap.State.Percentage
		assert.False(t, math.IsNaN(p) || math.IsInf(p, 0))
		assert.GreaterOrEqual(t, p, last)
		assert.LessOrEqual(t, p, float64(100))
		last = p
	}

	logLines := s.Log()
	assert.Contains(t, logLines, "PROGRESS NaN")
	assert.Contains(t, strings.Join(logLines, "\n"), "malformed line \"PROGRESS NaN\"")
	assert.Contains(t, strings.Join(logLines, "\n"), "regressed")
	s.Close()
}

func TestSession_TerminalMarkerTwice(t *testing.T) {
	conn := newFakeConn()
	s, rec := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("DONE")
	_, err := waitFor(t, s)
	require.NoError(t, err)

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	notified := len(rec.all())
	assert.Equal(t, []string{"DONE"}, s.Log())

	assert.True(t, s.handleLine(context.Background(), gen, "DONE"))
	assert.Equal(t, model.PhaseCompleted, s.State().Phase)
	assert.Len(t, rec.all(), notified)
	assert.Equal(t, []string{"DONE"}, s.Log(), "lines after the terminal marker are discarded")
}

func TestSession_BackendError(t *testing.T) {
	conn := newFakeConn()
	s, rec := newTestSession(t, conn)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	<-conn.sent
	conn.push("PROGRESS 15", "ERROR: plate not found")

	state, err := waitFor(t, s)
	assert.Equal(t, model.PhaseFailed, state.Phase)
	assert.Equal(t, "plate not found", state.Reason)

	var berr *model.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "plate not found", berr.Reason)

	alert := s.Alert()
	require.NotNil(t, alert)
	assert.Contains(t, alert.Message, "plate not found")

	notified := len(rec.all())
	s.DismissAlert()
	assert.Nil(t, s.Alert())
	assert.Equal(t, model.PhaseFailed, s.State().Phase)
	assert.Len(t, rec.all(), notified+1)

	s.DismissAlert()
	assert.Len(t, rec.all(), notified+1)
}

func TestSession_DialFailure(t *testing.T) {
	s := New(transport.DialerFunc(func(context.Context) (transport.Conn, error) {
		return nil, errors.New("connection refused")
	}), log.NewNopLogger())

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	state, err := waitFor(t, s)

	assert.Equal(t, model.PhaseFailed, state.Phase)
	assert.Contains(t, state.Reason, "connection refused")
	var terr *model.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dial", terr.Op)
	assert.NotNil(t, s.Alert())
}

func TestSession_StartValidation(t *testing.T) {
	s := New(transport.DialerFunc(func(context.Context) (transport.Conn, error) {
		return newFakeConn(), nil
	}), log.NewNopLogger())

	assert.ErrorIs(t, s.Start(context.Background(), model.Query{Identifier: " - "}), model.ErrEmptyQuery)
	assert.Equal(t, model.PhaseIdle, s.State().Phase)

	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, model.ErrNotStarted)
}

func TestSession_StartWhileActiveRestarts(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	conns := []*fakeConn{first, second}
	var mu sync.Mutex
	s := New(transport.DialerFunc(func(context.Context) (transport.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := conns[0]
		conns = conns[1:]
		return c, nil
	}), log.NewNopLogger())

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "AAA111"}))
	<-first.sent
	first.push("brand: Toyota")
	require.Eventually(t, func() bool { return s.Record().Brand == "Toyota" }, waitTimeout, 5*time.Millisecond)

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "BBB222"}))
	assert.True(t, first.isClosed())
	assert.Equal(t, model.Unknown, s.Record().Brand)

	assert.Equal(t, "QUERY NEW PLATE BBB222", <-second.sent)
	second.push("brand: Honda", "DONE")
	state, err := waitFor(t, s)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, state.Phase)
	assert.Equal(t, "Honda", s.Record().Brand)
}

func TestSession_ContextCancelCloses(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, model.Query{Identifier: "ABC123"}))
	<-conn.sent
	cancel()

	eventuallyPhase(t, s, model.PhaseClosed)
	state, err := waitFor(t, s)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseClosed, state.Phase)
}

func TestSession_ContextCancelClosesWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("PROGRESS 10"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	dialer, err := transport.NewWebSocketDialer(transport.WebSocketConfig{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	}, log.NewNopLogger())
	require.NoError(t, err)
	s := New(dialer, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, model.Query{Identifier: "ABC123"}))
	require.Eventually(t, func() bool { return s.Percentage() == 10 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, model.PhaseStreaming, s.State().Phase)

	cancel()
	eventuallyPhase(t, s, model.PhaseClosed)
	state, err := waitFor(t, s)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseClosed, state.Phase)
}

func TestSession_Unsubscribe(t *testing.T) {
	conn := newFakeConn()
	s := New(transport.DialerFunc(func(context.Context) (transport.Conn, error) { return conn, nil }), log.NewNopLogger())

	var calls int
	var mu sync.Mutex
	unsubscribe := s.Subscribe(ObserverFunc(func(Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	require.NoError(t, s.Start(context.Background(), model.Query{Identifier: "ABC123"}))
	unsubscribe()
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
