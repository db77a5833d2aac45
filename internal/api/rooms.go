package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/avelensk/roomlink/internal/bridge"
	"github.com/avelensk/roomlink/internal/domain"
	"github.com/avelensk/roomlink/internal/knowledge"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RoomHandler handles the per-room endpoints the session pipeline calls.
type RoomHandler struct {
	*Handler
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(base *Handler) *RoomHandler {
	return &RoomHandler{Handler: base}
}

// RegisterRoutes registers room routes.
func (h *RoomHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Route("/rooms/{roomID}", func(r chi.Router) {
			r.Post("/connect", h.Connect)
			r.Post("/statements", h.PostStatement)
			r.Post("/questions", h.PostQuestion)
			r.Post("/report", h.PostReport)
			r.Post("/documents", h.PostDocuments)
			r.Post("/end", h.EndRoom)
			r.Delete("/", h.EndRoom)
			r.Get("/status", h.GetRoomStatus)
			r.Get("/transcript", h.GetTranscript)
		})
	})
}

func bridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrNotConnected), errors.Is(err, bridge.ErrDisconnected):
		Error(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, bridge.ErrConnectTimeout), errors.Is(err, bridge.ErrRequestTimeout):
		Error(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, bridge.ErrReportInProgress):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// Connect establishes the room's backend connection and opens a session
// record. Connecting an already-connected room is a no-op that returns the
// existing session.
func (h *RoomHandler) Connect(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	ctx := r.Context()

	if err := h.bridge.Connect(ctx, roomID); err != nil {
		slog.Error("Failed to connect room", "error", err, "room_id", roomID)
		bridgeError(w, err)
		return
	}

	session, err := h.repo.GetActiveRoomSession(ctx, roomID)
	if err != nil {
		slog.Error("Failed to look up room session", "error", err, "room_id", roomID)
		Error(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if session == nil {
		session = &domain.RoomSession{
			SessionID: uuid.NewString(),
			RoomID:    roomID,
			StartedAt: time.Now(),
		}
		if err := h.repo.CreateRoomSession(ctx, session); err != nil {
			slog.Error("Failed to create room session", "error", err, "room_id", roomID)
			Error(w, http.StatusInternalServerError, "failed to create session")
			return
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "connected",
		"room_id":    roomID,
		"session_id": session.SessionID,
	})
}

type statementRequest struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	StartTime  int64   `json:"startTime"` // unix milliseconds; zero means now
}

// PostStatement forwards one finalized utterance to the backend and archives
// it in the transcript. Delivery is asynchronous: an offline room buffers the
// statement for replay, so this always accepts.
func (h *RoomHandler) PostStatement(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req statementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text cannot be empty")
		return
	}

	st := bridge.Statement{
		Speaker:    req.Speaker,
		Text:       req.Text,
		Confidence: req.Confidence,
	}
	if req.StartTime > 0 {
		st.StartTime = time.UnixMilli(req.StartTime)
	}
	h.bridge.SendStatement(roomID, st)

	spokenAt := st.StartTime
	if spokenAt.IsZero() {
		spokenAt = time.Now()
	}
	confidence := req.Confidence
	if confidence == 0 {
		confidence = 1
	}
	entry := &domain.TranscriptEntry{
		RoomID:     roomID,
		Speaker:    req.Speaker,
		Text:       req.Text,
		Confidence: confidence,
		SpokenAt:   spokenAt,
	}
	if err := h.repo.AppendTranscript(r.Context(), entry); err != nil {
		// The statement is already on its way; losing the archive copy is
		// worth a warning, not a failed request.
		slog.Warn("Failed to archive transcript entry", "error", err, "room_id", roomID)
	}

	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type questionRequest struct {
	Text        string `json:"text"`
	WithSources bool   `json:"withSources"`
}

// PostQuestion forwards a question to the backend and blocks until the
// answer arrives or the question times out.
func (h *RoomHandler) PostQuestion(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text cannot be empty")
		return
	}

	var answer bridge.Answer
	var err error
	if req.WithSources {
		answer, err = h.bridge.SendQuestionWithSources(r.Context(), roomID, req.Text)
	} else {
		answer, err = h.bridge.SendQuestion(r.Context(), roomID, req.Text)
	}
	if err != nil {
		slog.Warn("Question failed", "error", err, "room_id", roomID)
		bridgeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"question": answer.Question,
		"answer":   answer.Text,
	}
	if req.WithSources {
		resp["sources"] = answer.Sources
	}
	JSON(w, http.StatusOK, resp)
}

// PostReport queues meeting-report generation and blocks until the report
// arrives on the room's connection or the request times out.
func (h *RoomHandler) PostReport(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	report, err := h.bridge.RequestReport(r.Context(), roomID)
	if err != nil {
		slog.Warn("Report request failed", "error", err, "room_id", roomID)
		bridgeError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":        report.Status,
		"meeting_title": report.MeetingTitle,
		"summary_type":  report.SummaryType,
		"content":       report.Content,
	})
}

type documentsRequest struct {
	Description string              `json:"description"`
	Files       []knowledge.FileRef `json:"files"`
}

// PostDocuments queues ingestion of session artifacts with the backend. The
// backend confirms completion later with a document_processed frame.
func (h *RoomHandler) PostDocuments(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req documentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Files) == 0 {
		Error(w, http.StatusBadRequest, "files cannot be empty")
		return
	}

	if err := h.jobs.SubmitDocumentJob(r.Context(), roomID, req.Description, req.Files); err != nil {
		slog.Error("Failed to queue document job", "error", err, "room_id", roomID)
		Error(w, http.StatusBadGateway, "failed to queue document job")
		return
	}

	JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// EndRoom tears down the room: disconnects the backend connection, closes
// the session record, and tells the backend to finalize the session.
func (h *RoomHandler) EndRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	ctx := r.Context()

	h.bridge.Disconnect(roomID)

	if err := h.repo.EndRoomSession(ctx, roomID, time.Now()); err != nil {
		slog.Error("Failed to end room session", "error", err, "room_id", roomID)
		Error(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	if err := h.jobs.EndSession(ctx, roomID); err != nil {
		// The room is already torn down locally; the backend will reap the
		// session on its own timeout.
		slog.Warn("Failed to notify backend of session end", "error", err, "room_id", roomID)
	}

	JSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// GetRoomStatus reports the room's connection and buffer state.
func (h *RoomHandler) GetRoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	resp := map[string]interface{}{
		"room_id":   roomID,
		"connected": h.bridge.Connected(roomID),
	}
	if buf, ok := h.bridge.BufferStatus(roomID); ok {
		resp["buffered_statements"] = buf.Count
		resp["oldest_buffered_age_ms"] = buf.OldestAge.Milliseconds()
	}

	session, err := h.repo.GetActiveRoomSession(r.Context(), roomID)
	if err != nil {
		slog.Error("Failed to look up room session", "error", err, "room_id", roomID)
		Error(w, http.StatusInternalServerError, "failed to look up session")
		return
	}
	if session != nil {
		resp["session_id"] = session.SessionID
		resp["started_at"] = session.StartedAt.Unix()
	}

	JSON(w, http.StatusOK, resp)
}

// GetTranscript returns the room's archived transcript, oldest first.
func (h *RoomHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.repo.GetTranscript(r.Context(), roomID, limit)
	if err != nil {
		slog.Error("Failed to load transcript", "error", err, "room_id", roomID)
		Error(w, http.StatusInternalServerError, "failed to load transcript")
		return
	}

	items := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]interface{}{
			"speaker":    e.Speaker,
			"text":       e.Text,
			"confidence": e.Confidence,
			"spoken_at":  e.SpokenAt.Unix(),
		})
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"entries": items,
	})
}

// GetStatus reports aggregate bridge state across all rooms.
func (h *RoomHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.bridge.Status()
	JSON(w, http.StatusOK, map[string]interface{}{
		"rooms":               status.Rooms,
		"room_ids":            status.RoomIDs,
		"buffered_statements": status.BufferedStatements,
	})
}
