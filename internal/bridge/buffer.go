package bridge

import (
	"context"
	"time"
)

// Statement is one outbound transcript utterance. StartTime is the logical
// utterance time; when zero it defaults to now.
type Statement struct {
	Speaker    string
	Text       string
	Confidence float64
	StartTime  time.Time
}

// bufferedStatement is a statement waiting for a live connection. enqueuedAt
// drives age-based expiry and is distinct from the logical startTime.
type bufferedStatement struct {
	speaker    string
	text       string
	confidence float64
	startTime  time.Time
	enqueuedAt time.Time
	retries    int
}

// SendStatement forwards one utterance to the backend, fire-and-forget. It
// never blocks and never surfaces an error: with no live connection the
// statement is buffered, and a failing send retries with backoff before
// being buffered as well.
func (m *Manager) SendStatement(roomID string, st Statement) {
	if st.StartTime.IsZero() {
		st.StartTime = time.Now()
	}
	if st.Confidence == 0 {
		st.Confidence = 1
	}

	r := m.getOrCreateRoom(roomID)
	r.mu.Lock()
	r.touchLocked()
	if r.state != stateConnected || r.conn == nil {
		m.enqueueLocked(r, bufferedStatement{
			speaker:    st.Speaker,
			text:       st.Text,
			confidence: st.Confidence,
			startTime:  st.StartTime,
			enqueuedAt: time.Now(),
		})
		r.mu.Unlock()
		return
	}
	conn := r.conn
	r.mu.Unlock()

	go m.deliverStatement(r, conn, st)
}

// deliverStatement pushes one statement through the transport, retrying with
// exponential backoff. Exhausted retries fall back to the buffer instead of
// dropping the statement.
func (m *Manager) deliverStatement(r *room, conn Conn, st Statement) {
	frame := statementFrame{
		Type:       "statement",
		Text:       st.Text,
		Speaker:    st.Speaker,
		Confidence: st.Confidence,
		StartTime:  st.StartTime.UnixMilli(),
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.SendRetryLimit; attempt++ {
		if attempt > 0 {
			time.Sleep(m.cfg.SendRetryBaseDelay * time.Duration(1<<(attempt-1)))
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
		err := conn.Send(ctx, frame)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		m.logger.Debug("statement send failed", "room_id", r.id, "attempt", attempt+1, "error", err)
	}

	m.logger.Warn("statement send retries exhausted, buffering", "room_id", r.id, "error", lastErr)
	r.mu.Lock()
	m.enqueueLocked(r, bufferedStatement{
		speaker:    st.Speaker,
		text:       st.Text,
		confidence: st.Confidence,
		startTime:  st.StartTime,
		enqueuedAt: time.Now(),
		retries:    m.cfg.SendRetryLimit,
	})
	r.mu.Unlock()
}

// enqueueLocked appends st to the room's buffer, evicting the oldest entry
// when the buffer is at capacity. Callers hold r.mu.
func (m *Manager) enqueueLocked(r *room, st bufferedStatement) {
	if len(r.buffer) >= m.cfg.MaxBufferSize {
		evicted := r.buffer[0]
		r.buffer = append(r.buffer[:0], r.buffer[1:]...)
		m.logger.Warn("statement buffer full, evicting oldest",
			"room_id", r.id,
			"speaker", evicted.speaker,
			"enqueued_at", evicted.enqueuedAt)
	}
	r.buffer = append(r.buffer, st)
}

// flushBuffer replays buffered statements in original submission order with
// a fixed inter-send delay. The buffer is cleared up front so statements
// arriving during replay queue behind the batch instead of re-entering it.
// Runs synchronously as the final step of a successful connect.
func (m *Manager) flushBuffer(r *room, conn Conn) {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	m.logger.Info("replaying buffered statements", "room_id", r.id, "count", len(batch))

	sent, expired := 0, 0
	for _, st := range batch {
		if time.Since(st.enqueuedAt) > m.cfg.MaxBufferAge {
			expired++
			continue
		}
		if sent > 0 {
			time.Sleep(m.cfg.FlushInterval)
		}
		m.deliverStatement(r, conn, Statement{
			Speaker:    st.speaker,
			Text:       st.text,
			Confidence: st.confidence,
			StartTime:  st.startTime,
		})
		sent++
	}
	if expired > 0 {
		m.logger.Warn("discarded expired buffered statements", "room_id", r.id, "count", expired)
	}
}
