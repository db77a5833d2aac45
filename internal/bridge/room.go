package bridge

import (
	"sync"
	"time"
)

type roomState int

const (
	stateDisconnected roomState = iota
	stateConnecting
	stateConnected
	stateReconnecting
	stateAbandoned
)

func (s roomState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateReconnecting:
		return "reconnecting"
	case stateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// room is the per-room context: the connection handle, the pending-question
// maps, the report slot, the statement buffer, and the reconnect state. Every
// mutable field is guarded by mu; settlement of pending entries always runs
// under it, which is what makes settle-exactly-once a local invariant.
type room struct {
	id string

	mu             sync.Mutex
	state          roomState
	conn           Conn
	closing        bool // set by Disconnect before closing conn locally
	pendingPlain   map[string]*pendingQuestion
	pendingSourced map[string]*pendingQuestion
	pendingReport  *pendingReport
	buffer         []bufferedStatement
	reconnectTimer *time.Timer
	attempts       int
	lastActivity   time.Time
}

func newRoom(id string) *room {
	return &room{
		id:             id,
		state:          stateDisconnected,
		pendingPlain:   make(map[string]*pendingQuestion),
		pendingSourced: make(map[string]*pendingQuestion),
		lastActivity:   time.Now(),
	}
}

// questionTable selects the pending map for one question flavor. The two
// flavors never share entries: an answer resolves only from its own map.
func (r *room) questionTable(withSources bool) map[string]*pendingQuestion {
	if withSources {
		return r.pendingSourced
	}
	return r.pendingPlain
}

// rejectAllLocked settles every pending question and the pending report with
// err and clears their timers. Callers hold r.mu.
func (r *room) rejectAllLocked(err error) {
	for text, p := range r.pendingPlain {
		delete(r.pendingPlain, text)
		p.settleLocked(questionResult{err: err})
	}
	for text, p := range r.pendingSourced {
		delete(r.pendingSourced, text)
		p.settleLocked(questionResult{err: err})
	}
	if r.pendingReport != nil {
		rep := r.pendingReport
		r.pendingReport = nil
		rep.settleLocked(reportResult{err: err})
	}
}

// cancelReconnectLocked stops a scheduled reconnect, if any. Callers hold
// r.mu.
func (r *room) cancelReconnectLocked() {
	if r.reconnectTimer != nil {
		r.reconnectTimer.Stop()
		r.reconnectTimer = nil
	}
}

func (r *room) touchLocked() {
	r.lastActivity = time.Now()
}
