// Package domain defines persistence-facing types for room sessions.
package domain

import "time"

// RoomSession is one connected span of a room's lifetime, from a successful
// connect to its teardown.
type RoomSession struct {
	SessionID string
	RoomID    string
	StartedAt time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the session has not ended yet.
func (s *RoomSession) Active() bool {
	return s.EndedAt == nil
}

// TranscriptEntry is one archived statement from a room's transcript.
// SpokenAt is the logical utterance time carried on the statement, not the
// time the entry was written.
type TranscriptEntry struct {
	ID         int64
	RoomID     string
	Speaker    string
	Text       string
	Confidence float64
	SpokenAt   time.Time
	CreatedAt  time.Time
}
