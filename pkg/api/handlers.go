// Package api exposes the HTTP surface: session management, message
// listing and the turn endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"parley/pkg/auth"
	"parley/pkg/completion"
	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/turn"
	"parley/pkg/utils"
	"parley/pkg/workers"

	"github.com/gorilla/mux"
)

// API wires the turn service into HTTP handlers.
type API struct {
	svc *turn.Service
}

func New(svc *turn.Service) *API { return &API{svc: svc} }

// Register attaches all v1 routes to the provided router.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions", a.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", a.getSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/messages", a.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/turns", a.sendTurn).Methods(http.MethodPost)
	r.HandleFunc("/characters/{id}", a.getCharacter).Methods(http.MethodGet)
}

type sessionSummary struct {
	ID           string `json:"id"`
	Character    string `json:"character"`
	Title        string `json:"title"`
	Mirror       string `json:"mirror,omitempty"`
	CreatedTS    int64  `json:"created_ts"`
	LastActiveTS int64  `json:"last_active_ts"`
}

type characterSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	NSFW      bool   `json:"nsfw"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func summarizeSession(s models.Session) sessionSummary {
	return sessionSummary{
		ID:           s.ID,
		Character:    s.Character,
		Title:        s.Title,
		Mirror:       s.Mirror,
		CreatedTS:    s.CreatedTS,
		LastActiveTS: s.LastActiveTS,
	}
}

func summarizeCharacter(c models.Character) characterSummary {
	return characterSummary{ID: c.ID, Name: c.Name, Type: c.Type, NSFW: c.NSFW, AvatarURL: c.AvatarURL}
}

// createSession handles POST /v1/sessions. The body names the character
// and optionally a session to mirror.
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	owner := auth.UserIDFromContext(r.Context())
	if owner == "" {
		utils.JSONError(w, http.StatusUnauthorized, "user signature required")
		return
	}

	var req struct {
		Character string `json:"character"`
		Title     string `json:"title"`
		MirrorOf  string `json:"mirror_of"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Character == "" {
		utils.JSONError(w, http.StatusBadRequest, "character required")
		return
	}

	sess, err := a.svc.CreateSession(owner, req.Character, req.Title, req.MirrorOf)
	if err != nil {
		switch {
		case errors.Is(err, turn.ErrNotFound):
			utils.JSONError(w, http.StatusNotFound, "character not found")
		case errors.Is(err, turn.ErrBadMirror):
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("session_create_failed", "error", err)
			utils.JSONError(w, http.StatusInternalServerError, "session create failed")
		}
		return
	}
	logger.Info("session_created", "session", sess.ID, "character", sess.Character, "mirror", sess.Mirror)
	_ = utils.JSONWrite(w, http.StatusCreated, summarizeSession(sess))
}

// listSessions handles GET /v1/sessions, scoped to the verified caller.
func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	owner := auth.UserIDFromContext(r.Context())
	if owner == "" {
		utils.JSONError(w, http.StatusUnauthorized, "user signature required")
		return
	}
	sessions, err := store.ListSessionsByOwner(owner)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarizeSession(s))
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	owner := auth.UserIDFromContext(r.Context())
	id := mux.Vars(r)["id"]
	sess, err := store.GetSession(id)
	if err != nil || sess.Owner != owner {
		utils.JSONError(w, http.StatusNotFound, "session not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, summarizeSession(sess))
}

// listMessages handles GET /v1/sessions/{id}/messages?limit=<n>, oldest
// first.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	owner := auth.UserIDFromContext(r.Context())
	id := mux.Vars(r)["id"]
	sess, err := store.GetSession(id)
	if err != nil || sess.Owner != owner {
		utils.JSONError(w, http.StatusNotFound, "session not found")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := store.ListMessages(id, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"session": id, "messages": msgs})
}

func (a *API) getCharacter(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ch, err := store.GetCharacter(id)
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "character not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, summarizeCharacter(ch))
}

// sendTurn handles POST /v1/sessions/{id}/turns, the main chat endpoint.
func (a *API) sendTurn(w http.ResponseWriter, r *http.Request) {
	owner := auth.UserIDFromContext(r.Context())
	if owner == "" {
		utils.JSONError(w, http.StatusUnauthorized, "user signature required")
		return
	}
	id := mux.Vars(r)["id"]

	var req struct {
		Text    string `json:"text"`
		Consent bool   `json:"nsfw_consent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := a.svc.SendTurn(r.Context(), turn.Input{
		SessionID: id,
		UserID:    owner,
		Text:      req.Text,
		Consent:   req.Consent,
	})
	if err != nil {
		writeTurnError(w, id, err)
		return
	}

	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"reply_text": res.Reply,
		"is_nsfw":    res.NSFW,
		"duplicate":  res.Duplicate,
		"session":    summarizeSession(res.Session),
		"character":  summarizeCharacter(res.Character),
	})
}

func writeTurnError(w http.ResponseWriter, sessionID string, err error) {
	var pe *turn.PersistenceError
	switch {
	case errors.Is(err, turn.ErrEmptyInput):
		utils.JSONError(w, http.StatusBadRequest, "empty message")
	case errors.Is(err, turn.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, workers.ErrRateLimited):
		utils.JSONError(w, http.StatusTooManyRequests, "too many concurrent turns")
	case errors.Is(err, completion.ErrUpstreamUnavailable),
		errors.Is(err, completion.ErrUpstreamTimeout),
		errors.Is(err, completion.ErrUpstreamInvalidResponse):
		logger.Error("turn_upstream_failed", "session", sessionID, "error", err)
		utils.JSONError(w, http.StatusServiceUnavailable, "generation unavailable")
	case errors.As(err, &pe):
		logger.Error("turn_persist_failed", "session", sessionID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "persistence failed")
	default:
		logger.Error("turn_failed", "session", sessionID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "turn failed")
	}
}
