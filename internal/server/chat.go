package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/michaelbrown/smartdj/internal/dj"
	"github.com/michaelbrown/smartdj/internal/storage"
)

const (
	maxMessageLen       = 2000
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type chatRequest struct {
	Message string `json:"message"`
	Persona string `json:"persona"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "message is required")
		return
	}
	if len(req.Message) > maxMessageLen {
		writeError(w, http.StatusBadRequest, codeBadRequest, "message is too long")
		return
	}

	sess := s.loadSession(w, r)
	if sess == nil {
		return
	}

	lc, err := s.contexts.Get(r.Context(), sess)
	if err != nil {
		writeFailure(w, "chat", err)
		return
	}

	turn := dj.Request{
		UserID:      sess.UserID,
		Message:     req.Message,
		AccessToken: sess.AccessToken,
		Persona:     req.Persona,
		Context:     lc,
	}
	res := s.engine.Respond(r.Context(), turn)

	s.recordTurn(r, turn, res)
	s.notifyPlayback(sess.UserID, res)

	writeData(w, http.StatusOK, res)
}

// recordTurn stores the turn. History is best effort and never fails the reply.
func (s *Server) recordTurn(r *http.Request, req dj.Request, res *dj.Result) {
	if s.history == nil {
		return
	}
	t, err := dj.NewTurn(req, res)
	if err == nil {
		err = s.history.RecordTurn(r.Context(), t)
	}
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("recording chat turn")
	}
}

func (s *Server) notifyPlayback(userID string, res *dj.Result) {
	for _, ar := range res.Results {
		if !ar.OK() {
			continue
		}
		switch ar.Action {
		case dj.KindControlPlayback, dj.KindAddToQueue:
			s.hub.PlaybackChanged(userID, "ai", map[string]string{
				"action": string(ar.Action),
				"detail": ar.ActionDetail,
			})
		case dj.KindCreatePlaylist:
			s.contexts.Invalidate(userID)
		}
	}
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeData(w, http.StatusOK, map[string]any{"turns": []storage.Turn{}})
		return
	}
	id, _ := identityFrom(r.Context())
	q := r.URL.Query()
	opts := storage.TurnListOptions{
		UserID: id.UserID,
		Limit:  intParam(q.Get("limit"), defaultHistoryLimit, maxHistoryLimit),
		Offset: intParam(q.Get("offset"), 0, 1<<20),
	}
	turns, err := s.history.ListTurns(r.Context(), opts)
	if err != nil {
		writeFailure(w, "list_history", err)
		return
	}
	if turns == nil {
		turns = []storage.Turn{}
	}
	writeData(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeData(w, http.StatusOK, map[string]int{"deleted": 0})
		return
	}
	id, _ := identityFrom(r.Context())
	n, err := s.history.DeleteTurns(r.Context(), id.UserID)
	if err != nil {
		writeFailure(w, "delete_history", err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeData(w, http.StatusOK, map[string]any{"stats": []storage.ActionStat{}})
		return
	}
	id, _ := identityFrom(r.Context())
	stats, err := s.history.ActionStats(r.Context(), id.UserID)
	if err != nil {
		writeFailure(w, "history_stats", err)
		return
	}
	if stats == nil {
		stats = []storage.ActionStat{}
	}
	writeData(w, http.StatusOK, map[string]any{"stats": stats})
}
