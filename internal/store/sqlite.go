package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avelensk/roomlink/internal/domain"
	"github.com/avelensk/roomlink/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS room_sessions (
		session_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_room_sessions_active ON room_sessions(room_id) WHERE ended_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_room_sessions_ended ON room_sessions(ended_at) WHERE ended_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1,
		spoken_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_room ON transcripts(room_id, spoken_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRoomSession records the start of a connected span for a room.
func (s *SQLiteStore) CreateRoomSession(ctx context.Context, session *domain.RoomSession) error {
	query := `
	INSERT INTO room_sessions (session_id, room_id, started_at, ended_at, created_at, updated_at)
	VALUES (?, ?, ?, NULL, ?, ?)`

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.RoomID, session.StartedAt.Unix(), now, now,
	)
	if err != nil {
		return fmt.Errorf("create room session: %w", err)
	}
	return nil
}

// EndRoomSession stamps the active session for a room as ended.
func (s *SQLiteStore) EndRoomSession(ctx context.Context, roomID string, endedAt time.Time) error {
	query := `UPDATE room_sessions SET ended_at = ?, updated_at = ? WHERE room_id = ? AND ended_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, endedAt.Unix(), time.Now().Unix(), roomID)
	if err != nil {
		return fmt.Errorf("end room session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("EndRoomSession affected 0 rows", "room_id", roomID)
	}
	return nil
}

// GetActiveRoomSession retrieves the room's unfinished session, or nil.
func (s *SQLiteStore) GetActiveRoomSession(ctx context.Context, roomID string) (*domain.RoomSession, error) {
	query := `
		SELECT session_id, room_id, started_at, ended_at, created_at, updated_at
		FROM room_sessions WHERE room_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, roomID)

	var session domain.RoomSession
	var endedAt sql.NullInt64
	var startedAt, createdAt, updatedAt int64

	err := row.Scan(&session.SessionID, &session.RoomID, &startedAt, &endedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan room session row: %w", err)
	}

	session.StartedAt = time.Unix(startedAt, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	if endedAt.Valid {
		ts := time.Unix(endedAt.Int64, 0)
		session.EndedAt = &ts
	}

	return &session, nil
}

// AppendTranscript archives one statement. Writes retry with exponential
// backoff to ride out SQLITE_BUSY from concurrent session updates.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, entry *domain.TranscriptEntry) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.appendTranscriptOnce(ctx, entry)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendTranscript hit a busy database, retrying",
				"room_id", entry.RoomID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("append transcript for %s after %d attempts: %w", entry.RoomID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) appendTranscriptOnce(ctx context.Context, entry *domain.TranscriptEntry) error {
	query := `
	INSERT INTO transcripts (room_id, speaker, text, confidence, spoken_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		entry.RoomID, entry.Speaker, entry.Text, entry.Confidence,
		entry.SpokenAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return err
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// GetTranscript retrieves the most recent transcript entries for a room,
// oldest first.
func (s *SQLiteStore) GetTranscript(ctx context.Context, roomID string, limit int) ([]*domain.TranscriptEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, room_id, speaker, text, confidence, spoken_at, created_at
		FROM transcripts WHERE room_id = ?
		ORDER BY spoken_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var entries []*domain.TranscriptEntry
	for rows.Next() {
		var entry domain.TranscriptEntry
		var spokenAt, createdAt int64

		if err := rows.Scan(&entry.ID, &entry.RoomID, &entry.Speaker, &entry.Text,
			&entry.Confidence, &spokenAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}

		entry.SpokenAt = time.Unix(spokenAt, 0)
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// CleanupEndedSessions removes sessions that ended more than ttl ago, along
// with their rooms' transcripts when no session remains.
func (s *SQLiteStore) CleanupEndedSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()

	query := `DELETE FROM room_sessions WHERE ended_at IS NOT NULL AND ended_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup ended sessions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	orphanQuery := `
	DELETE FROM transcripts WHERE room_id NOT IN (SELECT room_id FROM room_sessions)`
	if _, err := s.db.ExecContext(ctx, orphanQuery); err != nil {
		return deleted, fmt.Errorf("cleanup orphaned transcripts: %w", err)
	}

	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
