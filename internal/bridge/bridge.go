// Package bridge manages one persistent duplex connection per room between
// the live session pipeline and the knowledge backend. It buffers statements
// across outages, correlates questions with their asynchronous answers,
// tracks one long-running report job per room, and reconnects dropped
// connections with a capped retry schedule.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ReportSubmitter queues a report job on the knowledge backend's side
// channel. The acknowledgment only confirms queuing; the result arrives later
// as a meeting_report frame on the room's connection.
type ReportSubmitter interface {
	SubmitReportJob(ctx context.Context, roomID string) error
}

// Manager owns the room contexts and their connections. All operations are
// safe for concurrent use; each room's state is guarded by its own mutex.
type Manager struct {
	cfg    Config
	dialer Dialer
	jobs   ReportSubmitter
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[string]*room
}

// NewManager creates a manager dialing through dialer and submitting report
// jobs through jobs. jobs may be nil if reports are never requested.
func NewManager(cfg Config, dialer Dialer, jobs ReportSubmitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg.normalized(),
		dialer: dialer,
		jobs:   jobs,
		logger: logger,
		rooms:  make(map[string]*room),
	}
}

func (m *Manager) getOrCreateRoom(roomID string) *room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		m.rooms[roomID] = r
	}
	return r
}

func (m *Manager) lookupRoom(roomID string) *room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// removeRoom drops r from the registry if it is still the registered context
// for its id.
func (m *Manager) removeRoom(r *room) {
	m.mu.Lock()
	if m.rooms[r.id] == r {
		delete(m.rooms, r.id)
	}
	m.mu.Unlock()
}

// Connect opens the room's connection if none exists. It is idempotent: a
// live connection makes it a logged no-op. On success the reconnect counter
// resets and any buffered statements are replayed before Connect returns.
func (m *Manager) Connect(ctx context.Context, roomID string) error {
	return m.connect(ctx, roomID, false)
}

// connect is the shared dial path. viaReconnect marks calls driven by the
// reconnect scheduler, which owns its own retry ladder; explicit connects
// that fail during the reconnect window must rearm the timer they cancelled
// on entry, or the room sits in Reconnecting with no further dials.
func (m *Manager) connect(ctx context.Context, roomID string, viaReconnect bool) error {
	r := m.getOrCreateRoom(roomID)

	r.mu.Lock()
	switch r.state {
	case stateConnected:
		r.mu.Unlock()
		m.logger.Info("connect skipped, room already connected", "room_id", roomID)
		return nil
	case stateConnecting:
		r.mu.Unlock()
		m.logger.Info("connect skipped, connection attempt in progress", "room_id", roomID)
		return nil
	}
	r.cancelReconnectLocked()
	prev := r.state
	r.state = stateConnecting
	r.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.DialRoom(dialCtx, roomID)
	if err != nil {
		r.mu.Lock()
		if !r.closing {
			r.state = prev
			if prev == stateReconnecting && !viaReconnect {
				m.scheduleReconnectLocked(r)
			}
		}
		r.mu.Unlock()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: room %s: %v", ErrConnectTimeout, roomID, err)
		}
		return fmt.Errorf("connect room %s: %w", roomID, err)
	}

	// Disconnect may have torn the room down while the dial was in flight.
	// Installing the connection on the orphaned context would leave it live
	// but unreachable, and a later connect for the same id would open a
	// second connection alongside it.
	if m.lookupRoom(roomID) != r {
		m.discardConn(conn, roomID)
		return fmt.Errorf("connect room %s: %w", roomID, ErrDisconnected)
	}

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		m.discardConn(conn, roomID)
		return fmt.Errorf("connect room %s: %w", roomID, ErrDisconnected)
	}
	r.conn = conn
	r.state = stateConnected
	r.attempts = 0
	r.touchLocked()
	r.mu.Unlock()
	m.logger.Info("room connected", "room_id", roomID)

	go m.readLoop(r, conn)

	m.flushBuffer(r, conn)
	return nil
}

// discardConn closes a freshly dialed connection that lost the race with a
// teardown and was never installed.
func (m *Manager) discardConn(conn Conn, roomID string) {
	m.logger.Info("room torn down during connect, discarding connection", "room_id", roomID)
	if err := conn.Close(true, "room disconnected"); err != nil {
		m.logger.Debug("failed to close discarded connection", "room_id", roomID, "error", err)
	}
}

// Disconnect tears the room down: it cancels any scheduled reconnect,
// rejects every pending question and the pending report, closes the
// connection with the normal code, and removes the context. Statements still
// in the buffer are dropped with a logged count; explicit teardown is a
// documented loss path. Disconnecting an unknown room is a logged no-op.
func (m *Manager) Disconnect(roomID string) {
	m.mu.Lock()
	r := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()

	if r == nil {
		m.logger.Info("disconnect skipped, no room context", "room_id", roomID)
		return
	}

	r.mu.Lock()
	r.cancelReconnectLocked()
	r.closing = true
	conn := r.conn
	r.conn = nil
	r.rejectAllLocked(ErrDisconnected)
	dropped := len(r.buffer)
	r.buffer = nil
	r.state = stateDisconnected
	r.mu.Unlock()

	if dropped > 0 {
		m.logger.Warn("dropping buffered statements on disconnect", "room_id", roomID, "count", dropped)
	}
	if conn != nil {
		if err := conn.Close(true, "room disconnected"); err != nil {
			m.logger.Debug("failed to close room connection", "room_id", roomID, "error", err)
		}
	}
	m.logger.Info("room disconnected", "room_id", roomID)
}

// Shutdown disconnects every room concurrently and waits for completion.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Disconnect(id)
		}(id)
	}
	wg.Wait()
	m.logger.Info("bridge shut down", "rooms", len(ids))
}

// readLoop drains inbound frames until the connection closes. Transport-level
// receive errors terminate the loop; recovery decisions are made in
// handleClose based on how the connection closed, never on send errors.
func (m *Manager) readLoop(r *room, conn Conn) {
	for {
		data, err := conn.Receive(context.Background())
		if err != nil {
			m.handleClose(r, conn, err)
			return
		}
		m.dispatch(r, data)
	}
}

func (m *Manager) handleClose(r *room, conn Conn, err error) {
	r.mu.Lock()
	if r.conn != conn {
		// A newer connection owns the room; this loop's connection was
		// already replaced or torn down.
		r.mu.Unlock()
		return
	}
	r.conn = nil

	if r.closing {
		// Local normal close; Disconnect already settled everything.
		r.mu.Unlock()
		return
	}

	if errors.Is(err, ErrNormalClosure) {
		r.rejectAllLocked(ErrDisconnected)
		dropped := len(r.buffer)
		r.buffer = nil
		r.state = stateDisconnected
		r.mu.Unlock()
		m.logger.Info("room connection closed by peer", "room_id", r.id)
		if dropped > 0 {
			m.logger.Warn("dropping buffered statements on close", "room_id", r.id, "count", dropped)
		}
		m.removeRoom(r)
		return
	}

	m.logger.Warn("room connection closed abnormally", "room_id", r.id, "error", err)
	m.scheduleReconnectLocked(r)
	r.mu.Unlock()
}

// dispatch routes one inbound frame to the component that owns its kind.
func (m *Manager) dispatch(r *room, data []byte) {
	msg, err := decodeInbound(data)
	if err != nil {
		m.logger.Warn("dropping undecodable frame", "room_id", r.id, "error", err)
		return
	}

	r.mu.Lock()
	r.touchLocked()
	r.mu.Unlock()

	switch f := msg.(type) {
	case *answerFrame:
		m.resolveAnswer(r, f)
	case *storedFrame:
		m.logger.Debug("statement stored", "room_id", r.id, "speaker", f.Speaker)
	case *documentProcessedFrame:
		m.logger.Info("document processed", "room_id", r.id, "file", f.File, "chunks", f.Chunks)
	case *meetingReportFrame:
		m.resolveReport(r, f)
	case *unknownFrame:
		m.logger.Warn("dropping unknown frame kind", "room_id", r.id, "kind", f.Type)
	}
}

// Status summarizes the registry across all rooms.
type Status struct {
	Rooms              int      `json:"rooms"`
	RoomIDs            []string `json:"room_ids"`
	BufferedStatements int      `json:"buffered_statements"`
}

// BufferStatus describes one room's statement buffer.
type BufferStatus struct {
	Count     int           `json:"count"`
	OldestAge time.Duration `json:"oldest_age"`
}

// Connected reports whether the room has a live connection.
func (m *Manager) Connected(roomID string) bool {
	r := m.lookupRoom(roomID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateConnected
}

// Status returns the aggregate room and buffer counts.
func (m *Manager) Status() Status {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	st := Status{Rooms: len(rooms), RoomIDs: make([]string, 0, len(rooms))}
	for _, r := range rooms {
		r.mu.Lock()
		st.RoomIDs = append(st.RoomIDs, r.id)
		st.BufferedStatements += len(r.buffer)
		r.mu.Unlock()
	}
	sort.Strings(st.RoomIDs)
	return st
}

// BufferStatus returns the room's buffer count and oldest-entry age. The
// second return is false when no context exists for the room.
func (m *Manager) BufferStatus(roomID string) (BufferStatus, bool) {
	r := m.lookupRoom(roomID)
	if r == nil {
		return BufferStatus{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bs := BufferStatus{Count: len(r.buffer)}
	if len(r.buffer) > 0 {
		bs.OldestAge = time.Since(r.buffer[0].enqueuedAt)
	}
	return bs, true
}
