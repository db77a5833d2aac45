package bridge

import (
	"context"
	"time"
)

const idleSweepInterval = time.Minute

// StartIdleWorker runs a background goroutine that periodically disconnects
// rooms with no recent activity, so pipelines that died without an explicit
// teardown do not leak connections. A ttl of zero disables the worker.
func (m *Manager) StartIdleWorker(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(idleSweepInterval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("idle worker started", "interval", idleSweepInterval, "ttl", ttl)
		for {
			select {
			case <-ticker.C:
				m.sweepIdleRooms(ttl)
			case <-ctx.Done():
				m.logger.Info("idle worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweepIdleRooms(ttl time.Duration) {
	m.mu.RLock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	for _, r := range rooms {
		r.mu.Lock()
		idle := time.Since(r.lastActivity)
		r.mu.Unlock()
		if idle > ttl {
			m.logger.Info("disconnecting idle room", "room_id", r.id, "idle", idle)
			m.Disconnect(r.id)
		}
	}
}
