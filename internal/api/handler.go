// Package api provides HTTP handlers for the roomlink API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/avelensk/roomlink/internal/bridge"
	"github.com/avelensk/roomlink/internal/knowledge"
	"github.com/avelensk/roomlink/internal/store"
)

// Bridge is the surface of the room connection manager the handlers use.
type Bridge interface {
	Connect(ctx context.Context, roomID string) error
	Disconnect(roomID string)
	Connected(roomID string) bool
	SendStatement(roomID string, st bridge.Statement)
	SendQuestion(ctx context.Context, roomID, text string) (bridge.Answer, error)
	SendQuestionWithSources(ctx context.Context, roomID, text string) (bridge.Answer, error)
	RequestReport(ctx context.Context, roomID string) (bridge.Report, error)
	Status() bridge.Status
	BufferStatus(roomID string) (bridge.BufferStatus, bool)
}

// JobQueue is the surface of the knowledge backend's side channel the
// handlers use.
type JobQueue interface {
	SubmitDocumentJob(ctx context.Context, roomID, description string, files []knowledge.FileRef) error
	EndSession(ctx context.Context, roomID string) error
}

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	bridge Bridge
	jobs   JobQueue
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, b Bridge, jobs JobQueue) *Handler {
	return &Handler{
		repo:   repo,
		bridge: b,
		jobs:   jobs,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
