// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/avelensk/roomlink/internal/domain"
)

// Repository defines the interface for persisting room sessions and
// transcripts.
type Repository interface {
	// CreateRoomSession records the start of a connected span for a room.
	CreateRoomSession(ctx context.Context, session *domain.RoomSession) error

	// EndRoomSession stamps the active session for a room as ended. It is a
	// no-op if the room has no active session.
	EndRoomSession(ctx context.Context, roomID string, endedAt time.Time) error

	// GetActiveRoomSession retrieves the room's unfinished session, or nil.
	GetActiveRoomSession(ctx context.Context, roomID string) (*domain.RoomSession, error)

	// AppendTranscript archives one statement.
	AppendTranscript(ctx context.Context, entry *domain.TranscriptEntry) error

	// GetTranscript retrieves the most recent transcript entries for a room,
	// oldest first.
	GetTranscript(ctx context.Context, roomID string, limit int) ([]*domain.TranscriptEntry, error)

	// CleanupEndedSessions removes sessions (and their transcripts) that
	// ended more than ttl ago. Returns the number of sessions removed.
	CleanupEndedSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
