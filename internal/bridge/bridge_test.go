package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn for tests. Frames pushed via deliver show up
// on Receive; sent frames are recorded in order.
type fakeConn struct {
	mu          sync.Mutex
	sent        []any
	failSends   int // fail this many Send calls before succeeding
	normalClose bool

	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends > 0 {
		c.failSends--
		return errors.New("transport send failed")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		normal := c.normalClose
		c.mu.Unlock()
		if normal {
			return nil, ErrNormalClosure
		}
		return nil, errors.New("connection reset by peer")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Close(normal bool, reason string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// deliver pushes one inbound frame as JSON.
func (c *fakeConn) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal inbound frame: %v", err)
	}
	c.inbound <- data
}

// dropAbnormal simulates a transport failure closing the connection.
func (c *fakeConn) dropAbnormal() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// closeNormal simulates the peer closing with the normal status code.
func (c *fakeConn) closeNormal() {
	c.mu.Lock()
	c.normalClose = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) sentFrames() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) setFailSends(n int) {
	c.mu.Lock()
	c.failSends = n
	c.mu.Unlock()
}

// fakeDialer hands out fakeConns and can be told to refuse dials.
type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failDials int
	dials     int
}

func (d *fakeDialer) DialRoom(ctx context.Context, roomID string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failDials > 0 {
		d.failDials--
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFailDials(n int) {
	d.mu.Lock()
	d.failDials = n
	d.mu.Unlock()
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// gatedDialer parks every dial until release is closed, so tests can run
// other operations while a dial is in flight. started signals each dial.
type gatedDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	started chan struct{}
	release chan struct{}
}

func newGatedDialer() *gatedDialer {
	return &gatedDialer{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (d *gatedDialer) DialRoom(ctx context.Context, roomID string) (Conn, error) {
	d.started <- struct{}{}
	<-d.release
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *gatedDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// blockingDialer never completes until the dial context expires.
type blockingDialer struct{}

func (blockingDialer) DialRoom(ctx context.Context, roomID string) (Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeJobs records side-channel report submissions.
type fakeJobs struct {
	mu        sync.Mutex
	calls     int
	submitErr error
}

func (j *fakeJobs) SubmitReportJob(ctx context.Context, roomID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	return j.submitErr
}

func (j *fakeJobs) callCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.QuestionTimeout = 150 * time.Millisecond
	cfg.ReportTimeout = 200 * time.Millisecond
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.MaxBufferSize = 10
	cfg.MaxBufferAge = time.Minute
	cfg.SendRetryLimit = 2
	cfg.SendRetryBaseDelay = 5 * time.Millisecond
	cfg.SendTimeout = time.Second
	cfg.FlushInterval = 5 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)

	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("expected 1 dial, got %d", got)
	}
	if !m.Connected("room-1") {
		t.Error("expected room to be connected")
	}
}

func TestConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	m := NewManager(cfg, blockingDialer{}, nil, nil)

	err := m.Connect(context.Background(), "room-1")
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected ErrConnectTimeout, got %v", err)
	}
	if m.Connected("room-1") {
		t.Error("room should not be connected after timeout")
	}
}

func TestConnectDialFailure(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.setFailDials(1)
	m := NewManager(testConfig(), dialer, nil, nil)

	if err := m.Connect(context.Background(), "room-1"); err == nil {
		t.Fatal("expected connect error")
	}
	// A later connect against a reachable peer succeeds.
	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
}

func TestDisconnectUnknownRoomIsNoop(t *testing.T) {
	m := NewManager(testConfig(), &fakeDialer{}, nil, nil)
	m.Disconnect("never-connected")

	if st := m.Status(); st.Rooms != 0 {
		t.Errorf("expected 0 rooms, got %d", st.Rooms)
	}
}

func TestDisconnectRejectsAllPending(t *testing.T) {
	dialer := &fakeDialer{}
	jobs := &fakeJobs{}
	m := NewManager(testConfig(), dialer, jobs, nil)

	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := dialer.lastConn()

	questionErr := make(chan error, 1)
	go func() {
		_, err := m.SendQuestion(context.Background(), "room-1", "what was decided?")
		questionErr <- err
	}()
	reportErr := make(chan error, 1)
	go func() {
		_, err := m.RequestReport(context.Background(), "room-1")
		reportErr <- err
	}()

	waitFor(t, time.Second, "question frame sent", func() bool { return conn.sentCount() >= 1 })
	waitFor(t, time.Second, "report job submitted", func() bool { return jobs.callCount() == 1 })

	m.Disconnect("room-1")

	if err := <-questionErr; !errors.Is(err, ErrDisconnected) {
		t.Errorf("question: expected ErrDisconnected, got %v", err)
	}
	if err := <-reportErr; !errors.Is(err, ErrDisconnected) {
		t.Errorf("report: expected ErrDisconnected, got %v", err)
	}
	if st := m.Status(); st.Rooms != 0 {
		t.Errorf("expected 0 rooms after disconnect, got %d", st.Rooms)
	}
}

func TestDisconnectDuringConnectDiscardsDialedConnection(t *testing.T) {
	dialer := newGatedDialer()
	m := NewManager(testConfig(), dialer, nil, nil)

	connectErr := make(chan error, 1)
	go func() { connectErr <- m.Connect(context.Background(), "room-1") }()

	// Tear the room down while the dial is still in flight, then let the
	// dial complete.
	<-dialer.started
	m.Disconnect("room-1")
	close(dialer.release)

	if err := <-connectErr; !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	first := dialer.conn(0)
	select {
	case <-first.closed:
	default:
		t.Error("connection dialed for a torn-down room must be closed")
	}

	// A fresh connect gets its own context and exactly one live connection.
	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("connect after teardown: %v", err)
	}
	if st := m.Status(); st.Rooms != 1 {
		t.Errorf("expected 1 room, got %d", st.Rooms)
	}
	second := dialer.conn(1)
	select {
	case <-second.closed:
		t.Error("second connection should be live")
	default:
	}
}

func TestPeerNormalCloseRemovesContext(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)

	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	dialer.lastConn().closeNormal()

	waitFor(t, time.Second, "room removed", func() bool { return m.Status().Rooms == 0 })
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("normal close must not reconnect, dials = %d", got)
	}
}

func TestShutdownDisconnectsAllRooms(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)

	for _, id := range []string{"room-1", "room-2", "room-3"} {
		if err := m.Connect(context.Background(), id); err != nil {
			t.Fatalf("connect %s: %v", id, err)
		}
	}
	m.Shutdown()

	if st := m.Status(); st.Rooms != 0 {
		t.Errorf("expected 0 rooms after shutdown, got %d", st.Rooms)
	}
}

func TestStatusAggregates(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)

	if err := m.Connect(context.Background(), "room-b"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.SendStatement("room-a", Statement{Speaker: "ana", Text: "offline one"})
	m.SendStatement("room-a", Statement{Speaker: "ana", Text: "offline two"})

	st := m.Status()
	if st.Rooms != 2 {
		t.Errorf("expected 2 rooms, got %d", st.Rooms)
	}
	if len(st.RoomIDs) != 2 || st.RoomIDs[0] != "room-a" || st.RoomIDs[1] != "room-b" {
		t.Errorf("unexpected room ids: %v", st.RoomIDs)
	}
	if st.BufferedStatements != 2 {
		t.Errorf("expected 2 buffered statements, got %d", st.BufferedStatements)
	}

	bs, ok := m.BufferStatus("room-a")
	if !ok {
		t.Fatal("expected buffer status for room-a")
	}
	if bs.Count != 2 {
		t.Errorf("expected buffer count 2, got %d", bs.Count)
	}
	if _, ok := m.BufferStatus("room-z"); ok {
		t.Error("expected no buffer status for unknown room")
	}
}

func TestDispatchIgnoresAcksAndUnknownFrames(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)

	if err := m.Connect(context.Background(), "room-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := dialer.lastConn()

	conn.deliver(t, map[string]any{"type": "stored", "speaker": "ana", "text": "hi"})
	conn.deliver(t, map[string]any{"type": "document_processed", "file": "notes.pdf", "chunks": 12})
	conn.deliver(t, map[string]any{"type": "telemetry", "payload": "?"})
	conn.inbound <- []byte("{not json")

	// The connection must survive all of the above.
	time.Sleep(20 * time.Millisecond)
	if !m.Connected("room-1") {
		t.Error("room should still be connected")
	}
}
