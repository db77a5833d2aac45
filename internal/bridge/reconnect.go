package bridge

import (
	"context"
	"time"
)

// scheduleReconnectLocked arms the room's reconnect timer after an abnormal
// close. At most one timer exists per room: a second close while already
// reconnecting must not schedule a duplicate. Callers hold r.mu.
func (m *Manager) scheduleReconnectLocked(r *room) {
	if r.reconnectTimer != nil {
		m.logger.Info("reconnect already scheduled", "room_id", r.id)
		return
	}
	if r.attempts == 0 {
		r.attempts = 1
	}
	r.state = stateReconnecting
	attempt := r.attempts
	r.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.attemptReconnect(r)
	})
	m.logger.Info("reconnect scheduled", "room_id", r.id, "attempt", attempt, "delay", m.cfg.ReconnectDelay)
}

func (m *Manager) attemptReconnect(r *room) {
	r.mu.Lock()
	r.reconnectTimer = nil
	if r.state != stateReconnecting {
		// An explicit Connect or Disconnect got there first.
		r.mu.Unlock()
		return
	}
	attempt := r.attempts
	r.mu.Unlock()

	m.logger.Info("reconnect attempt", "room_id", r.id, "attempt", attempt)
	err := m.connect(context.Background(), r.id, true)
	if err == nil {
		return
	}
	m.logger.Warn("reconnect attempt failed", "room_id", r.id, "attempt", attempt, "error", err)

	r.mu.Lock()
	if r.state != stateReconnecting {
		r.mu.Unlock()
		return
	}
	if r.attempts >= m.cfg.MaxReconnectAttempts {
		r.state = stateAbandoned
		r.rejectAllLocked(ErrDisconnected)
		dropped := len(r.buffer)
		r.buffer = nil
		r.mu.Unlock()
		m.logger.Error("room abandoned, reconnect attempts exhausted", "room_id", r.id, "attempts", attempt)
		if dropped > 0 {
			m.logger.Warn("dropping buffered statements on abandonment", "room_id", r.id, "count", dropped)
		}
		m.removeRoom(r)
		return
	}
	r.attempts++
	m.scheduleReconnectLocked(r)
	r.mu.Unlock()
}
