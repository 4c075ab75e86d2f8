// Package web exposes the turn engine over HTTP and WebSocket.
package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"storyforge/server/internal/engine"
	"storyforge/server/internal/session"
	"storyforge/server/internal/storage"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// Handlers bundles the HTTP endpoints around the engine.
type Handlers struct {
	engine *engine.Engine
	hub    *TurnHub
}

// NewHandlers wires the endpoint set.
func NewHandlers(eng *engine.Engine, hub *TurnHub) *Handlers {
	return &Handlers{engine: eng, hub: hub}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"service":         "storyforge",
		"degraded":        h.engine.Degraded(),
		"in_flight_turns": h.engine.InFlightTurns(),
	})
}

// --- sessions ---

// CreateSessionRequest creates a waiting lobby session.
type CreateSessionRequest struct {
	StoryID         string `json:"story_id"`
	HostID          string `json:"host_id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	MaxPlayers      int    `json:"max_players"`
	IsPublic        bool   `json:"is_public"`
	AllowSpectators bool   `json:"allow_spectators"`
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StoryID == "" || req.HostID == "" {
		writeError(w, http.StatusBadRequest, "story_id and host_id are required")
		return
	}

	sess, err := h.engine.CreateSession(r.Context(), engine.CreateSessionInput{
		StoryID:         req.StoryID,
		HostID:          req.HostID,
		Title:           req.Title,
		Description:     req.Description,
		MaxPlayers:      req.MaxPlayers,
		IsPublic:        req.IsPublic,
		AllowSpectators: req.AllowSpectators,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	f := storage.SessionFilter{
		StoryID: r.URL.Query().Get("story_id"),
		Status:  r.URL.Query().Get("status"),
		Limit:   queryInt(r, "limit", 20),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("public"); v != "" {
		pub := v == "true" || v == "1"
		f.IsPublic = &pub
	}

	sessions, total, err := h.engine.ListSessions(r.Context(), f)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

// LifecycleRequest identifies the caller of a lifecycle transition.
type LifecycleRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handlers) lifecycle(op func(r *http.Request, userID string) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LifecycleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		out, err := op(r, req.UserID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(func(r *http.Request, userID string) (interface{}, error) {
		sess, err := h.engine.StartSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
		if err == nil {
			h.hub.Broadcast(sess.ID, "session_status", sess)
		}
		return sess, err
	})(w, r)
}

func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(func(r *http.Request, userID string) (interface{}, error) {
		sess, err := h.engine.PauseSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
		if err == nil {
			h.hub.Broadcast(sess.ID, "session_status", sess)
		}
		return sess, err
	})(w, r)
}

func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(func(r *http.Request, userID string) (interface{}, error) {
		sess, err := h.engine.ResumeSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
		if err == nil {
			h.hub.Broadcast(sess.ID, "session_status", sess)
		}
		return sess, err
	})(w, r)
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(func(r *http.Request, userID string) (interface{}, error) {
		sess, err := h.engine.EndSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
		if err == nil {
			h.hub.Broadcast(sess.ID, "session_status", sess)
		}
		return sess, err
	})(w, r)
}

func (h *Handlers) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(func(r *http.Request, userID string) (interface{}, error) {
		return h.engine.ArchiveSession(r.Context(), chi.URLParam(r, "sessionID"), userID)
	})(w, r)
}

// JoinSessionRequest adds a participant.
type JoinSessionRequest struct {
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
	Role        string `json:"role"`
}

func (h *Handlers) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req JoinSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	player, err := h.engine.JoinSession(r.Context(), sessionID, req.UserID, req.CharacterID, req.Role)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	h.hub.Broadcast(sessionID, "player_joined", player)
	writeJSON(w, http.StatusCreated, player)
}

func (h *Handlers) LeaveSession(w http.ResponseWriter, r *http.Request) {
	var req LifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.engine.LeaveSession(r.Context(), sessionID, req.UserID); err != nil {
		writeEngineError(w, err)
		return
	}
	h.hub.Broadcast(sessionID, "player_left", map[string]string{"user_id": req.UserID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

// --- turns ---

// ActionRequest submits one player action.
type ActionRequest struct {
	PlayerID    string `json:"player_id"`
	CharacterID string `json:"character_id"`
	Action      string `json:"action"`
}

func (h *Handlers) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayerID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "player_id and action are required")
		return
	}

	in := engine.ActionInput{
		SessionID:   chi.URLParam(r, "sessionID"),
		PlayerID:    req.PlayerID,
		CharacterID: req.CharacterID,
		Action:      req.Action,
	}

	var (
		res *engine.TurnResult
		err error
	)
	if r.URL.Query().Get("stream") == "true" {
		res, err = h.engine.StreamPlayerAction(r.Context(), in, func(chunk engine.StreamChunk) {
			h.hub.Broadcast(in.SessionID, "narration_chunk", map[string]string{"text": chunk.Text})
		})
	} else {
		res, err = h.engine.ProcessPlayerAction(r.Context(), in)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.hub.Broadcast(in.SessionID, "turn", res)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.engine.SessionHistory(r.Context(),
		chi.URLParam(r, "sessionID"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// --- stories ---

// StartStoryRequest bootstraps a story into an active session.
type StartStoryRequest struct {
	HostID     string `json:"host_id"`
	Title      string `json:"title"`
	MaxPlayers int    `json:"max_players"`
	IsPublic   bool   `json:"is_public"`
}

func (h *Handlers) StartStory(w http.ResponseWriter, r *http.Request) {
	var req StartStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HostID == "" {
		writeError(w, http.StatusBadRequest, "host_id is required")
		return
	}

	res, err := h.engine.StartStory(r.Context(), engine.StartStoryInput{
		StoryID:    chi.URLParam(r, "storyID"),
		HostID:     req.HostID,
		Title:      req.Title,
		MaxPlayers: req.MaxPlayers,
		IsPublic:   req.IsPublic,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- websocket ---

// WatchSession upgrades the connection and subscribes it to a session's
// turn stream.
func (h *Handlers) WatchSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.engine.GetSession(r.Context(), sessionID); err != nil {
		writeEngineError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Web] websocket upgrade failed: %v", err)
		return
	}
	client := &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, 64),
		Hub:       h.hub,
	}
	h.hub.register <- client
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Web] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrSessionNotFound), errors.Is(err, engine.ErrStoryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotAMember), errors.Is(err, session.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrSessionNotActive),
		errors.Is(err, session.ErrInvalidSessionState),
		errors.Is(err, session.ErrAlreadyJoined),
		errors.Is(err, session.ErrSessionFull):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrGenerationFailure):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Printf("[Web] internal error: %v", err)
	}
	writeError(w, status, err.Error())
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
