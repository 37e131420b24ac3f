package conn

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/dispatch"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/transport"
	"github.com/matheus3301/pairchat/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	readErr   error
	writes    [][]byte
	writeErr  error
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.mu.Lock()
	c.closeCode = code
	if c.readErr == nil {
		c.readErr = net.ErrClosed
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) remoteClose(code int) {
	c.mu.Lock()
	c.readErr = &websocket.CloseError{Code: code}
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeConn) heartbeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		if f, err := wire.Decode(w); err == nil && f.Type() == wire.TypeHeartbeat {
			n++
		}
	}
	return n
}

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	clock *clock.Fake

	mu      sync.Mutex
	results []dialResult
	dials   []time.Time
	urls    []string
	block   bool
	gate    chan struct{}
	entered chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, d.clock.Now())
	d.urls = append(d.urls, rawURL)
	if d.block {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.gate != nil {
		gate, entered := d.gate, d.entered
		d.mu.Unlock()
		entered <- struct{}{}
		<-gate
		d.mu.Lock()
	}
	var r dialResult
	if len(d.results) > 0 {
		r = d.results[0]
		d.results = d.results[1:]
	} else {
		r = dialResult{err: errors.New("connection refused")}
	}
	d.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) push(results ...dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, results...)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

type transition struct {
	state status.State
	info  dispatch.Info
}

type harness struct {
	m        *Manager
	clock    *clock.Fake
	dialer   *fakeDialer
	registry *dispatch.Registry
	events   chan transition
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	d := &fakeDialer{clock: fc}
	logger := zaptest.NewLogger(t)
	reg := dispatch.New(logger)
	cfg := DefaultConfig("ws://gateway.test/ws/chat")
	m := NewManager(cfg, d, fc, status.NewMachine(nil), reg, func() string { return "tok en" }, logger)
	h := &harness{m: m, clock: fc, dialer: d, registry: reg, events: make(chan transition, 64)}
	reg.AddConnectionHandler(dispatch.ConnectionFunc(func(s status.State, info dispatch.Info) {
		h.events <- transition{state: s, info: info}
	}))
	t.Cleanup(m.Disconnect)
	return h
}

func (h *harness) next(t *testing.T) transition {
	t.Helper()
	select {
	case tr := <-h.events:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("no connection transition")
		return transition{}
	}
}

func (h *harness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case tr := <-h.events:
		t.Fatalf("unexpected transition %s %+v", tr.state, tr.info)
	case <-time.After(20 * time.Millisecond):
	}
}

func (h *harness) connect(t *testing.T) *fakeConn {
	t.Helper()
	c := newFakeConn()
	h.dialer.push(dialResult{conn: c})
	require.NoError(t, h.m.Connect(context.Background(), "alice"))
	require.Equal(t, status.Connecting, h.next(t).state)
	require.Equal(t, status.Connected, h.next(t).state)
	return c
}

func TestConnectOpensAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	assert.Equal(t, status.Connected, h.m.Status())
	require.Len(t, h.dialer.urls, 1)
	u, err := url.Parse(h.dialer.urls[0])
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Query().Get("userId"))
	assert.Equal(t, "tok en", u.Query().Get("token"))

	require.NoError(t, h.m.Connect(context.Background(), "alice"))
	assert.Equal(t, 1, h.dialer.dialCount(), "connect while connected is a no-op")
	h.expectNone(t)
}

func TestConnectRequiresUser(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Connect(context.Background(), ""), ErrNoUser)
}

func TestUncleanCloseBackoffSequence(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	start := h.clock.Now()

	c.remoteClose(websocket.CloseAbnormalClosure)
	tr := h.next(t)
	require.Equal(t, status.Connecting, tr.state)
	assert.Equal(t, 1, tr.info.Attempt)

	for i := 0; i < 7; i++ {
		h.clock.Advance(30 * time.Second)
	}

	var gaps []time.Duration
	prev := start
	for _, at := range h.dialer.dials[1:] {
		gaps = append(gaps, at.Sub(prev))
		prev = at
	}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	require.GreaterOrEqual(t, len(gaps), len(want))
	assert.Equal(t, want, gaps[:len(want)])
	assert.Equal(t, status.Connecting, h.m.Status(), "state reads CONNECTING while recovering")
}

func TestReconnectResetsBackoff(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)

	c.remoteClose(websocket.CloseGoingAway)
	require.Equal(t, status.Connecting, h.next(t).state)

	h.clock.Advance(time.Second)
	require.Equal(t, status.Connecting, h.next(t).state)

	c2 := newFakeConn()
	h.dialer.push(dialResult{conn: c2})
	h.clock.Advance(2 * time.Second)
	tr := h.next(t)
	require.Equal(t, status.Connected, tr.state)
	assert.True(t, tr.info.WasReconnecting)
	assert.Equal(t, 0, h.m.Attempts())

	dials := h.dialer.dialCount()
	c2.remoteClose(websocket.CloseAbnormalClosure)
	require.Equal(t, status.Connecting, h.next(t).state)
	h.clock.Advance(time.Second)
	assert.Equal(t, dials+1, h.dialer.dialCount(), "delay is back at the floor")
}

func TestCleanCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)

	c.remoteClose(websocket.CloseNormalClosure)
	require.Equal(t, status.Disconnected, h.next(t).state)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestDisconnectIsClean(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)

	h.m.Disconnect()
	require.Equal(t, status.Disconnected, h.next(t).state)
	assert.Equal(t, transport.CloseNormal, c.closeCode)
	assert.Equal(t, 0, h.clock.Pending(), "heartbeat stopped")

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
	h.expectNone(t)
}

func TestHeartbeatRecordsOnlyFirstOutstandingPing(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, c.heartbeats())
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 2, c.heartbeats())

	// The first ping went out at +5s; the second must not reset the marker.
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, status.Connected, h.m.Status())
	h.clock.Advance(time.Second)

	tr := h.next(t)
	assert.Equal(t, status.Connecting, tr.state)
	assert.Equal(t, "heartbeat timeout", tr.info.Reason)
	assert.Equal(t, transport.CloseHeartbeatTimeout, c.closeCode)

	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.dialer.dialCount(), "reconnect attempted after the backoff floor")
}

func TestHeartbeatAckKeepsConnectionAlive(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)

	for i := 0; i < 12; i++ {
		h.clock.Advance(5 * time.Second)
		h.registry.DispatchFrame(&wire.HeartbeatAck{})
	}
	assert.Equal(t, status.Connected, h.m.Status())
	assert.Equal(t, 12, c.heartbeats())
	h.expectNone(t)
}

func TestSendRequiresOpenTransport(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.m.Send([]byte("x")))
	assert.False(t, h.m.SendFrame(&wire.Heartbeat{}))
}

func TestSendFailureFlipsToDisconnectedThenReconnects(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	c.mu.Lock()
	c.writeErr = errors.New("broken pipe")
	c.mu.Unlock()

	assert.False(t, h.m.SendFrame(&wire.ChatMessage{ChatID: "chat_a_b"}))
	assert.Equal(t, status.Disconnected, h.next(t).state)
	assert.Equal(t, status.Connecting, h.next(t).state)

	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.dialer.dialCount())
}

func TestStopReconnecting(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	c.remoteClose(websocket.CloseAbnormalClosure)
	require.Equal(t, status.Connecting, h.next(t).state)

	h.m.StopReconnecting()
	assert.Equal(t, status.Disconnected, h.next(t).state)
	assert.Equal(t, 0, h.m.Attempts())

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestStopReconnectingDuringDial(t *testing.T) {
	h := newHarness(t)
	c := newFakeConn()
	h.dialer.push(dialResult{conn: c})
	h.dialer.gate = make(chan struct{})
	h.dialer.entered = make(chan struct{}, 1)

	errc := make(chan error, 1)
	go func() { errc <- h.m.Connect(context.Background(), "alice") }()
	<-h.dialer.entered
	require.Equal(t, status.Connecting, h.next(t).state)

	h.m.StopReconnecting()
	h.expectNone(t)
	close(h.dialer.gate)

	assert.ErrorIs(t, <-errc, ErrStopped)
	tr := h.next(t)
	assert.Equal(t, status.Disconnected, tr.state)
	assert.Equal(t, "reconnect stopped", tr.info.Reason)
	assert.Equal(t, status.Disconnected, h.m.Status())
	assert.Equal(t, transport.CloseNormal, c.closeCode)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestHandshakeUnauthorizedIsFatal(t *testing.T) {
	h := newHarness(t)
	h.dialer.push(dialResult{err: transport.ErrUnauthorized})

	err := h.m.Connect(context.Background(), "alice")
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	require.Equal(t, status.Connecting, h.next(t).state)
	tr := h.next(t)
	assert.Equal(t, status.Error, tr.state)
	assert.Equal(t, wire.ReasonAuthFailed, tr.info.Reason)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestAuthErrorFrameStopsConnection(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.registry.Dispatch([]byte(`{"type":"ERROR","content":"expired","extraData":{"reason":"not_authenticated"}}`))
	tr := h.next(t)
	assert.Equal(t, status.Error, tr.state)
	assert.ErrorIs(t, tr.info.Err, ErrCredentialsRejected)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestConnectionReplacedDisconnectsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)

	c.in <- []byte(`{"type":"CONNECTION_REPLACED","content":"Connection replaced by new session"}`)
	assert.Equal(t, status.Disconnected, h.next(t).state)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.dialer.dialCount())
}

func TestFailedInitialConnectSchedulesReconnect(t *testing.T) {
	h := newHarness(t)
	err := h.m.Connect(context.Background(), "alice")
	require.Error(t, err)
	require.Equal(t, status.Connecting, h.next(t).state)
	tr := h.next(t)
	require.Equal(t, status.Connecting, tr.state)
	assert.Equal(t, 1, tr.info.Attempt)

	c := newFakeConn()
	h.dialer.push(dialResult{conn: c})
	h.clock.Advance(time.Second)
	tr = h.next(t)
	assert.Equal(t, status.Connected, tr.state)
	assert.True(t, tr.info.WasReconnecting)
}

func TestOpenTimeout(t *testing.T) {
	h := newHarness(t)
	h.m.cfg.OpenTimeout = 30 * time.Millisecond
	h.dialer.block = true

	err := h.m.Connect(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrOpenTimeout)
	assert.Equal(t, status.Connecting, h.m.Status())
}

func TestListenerMayDisconnectFromCallback(t *testing.T) {
	h := newHarness(t)
	var order []status.State
	h.registry.AddConnectionHandler(dispatch.ConnectionFunc(func(s status.State, _ dispatch.Info) {
		order = append(order, s)
		if s == status.Connected {
			h.m.Disconnect()
		}
	}))
	h.dialer.push(dialResult{conn: newFakeConn()})

	done := make(chan error, 1)
	go func() { done <- h.m.Connect(context.Background(), "alice") }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect deadlocked")
	}
	assert.Equal(t, []status.State{status.Connecting, status.Connected, status.Disconnected}, order)
}
