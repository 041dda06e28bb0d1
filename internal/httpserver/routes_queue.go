// apps/go-server/internal/httpserver/routes_queue.go
//
// Matchmaking routes:
//   - POST /queue/join     {bucketSize} → wait, or get the session this join completed
//   - POST /queue/leave    {bucketSize} → stop waiting
//   - GET  /queue/{bucket}              → waiting list in match order

package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/match"
)

type queueReq struct {
	BucketSize int `json:"bucketSize"`
}

type joinRes struct {
	Status  string        `json:"status"` // "waiting" | "matched"
	Session *game.Session `json:"session,omitempty"`
}

type waitingRes struct {
	BucketSize int           `json:"bucketSize"`
	Waiting    []match.Entry `json:"waiting"`
}

func (s *Server) mountQueue(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Post("/join", s.handleJoin)
		r.Post("/leave", s.handleLeave)
		r.Get("/{bucket}", s.handleWaiting)
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req queueReq
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	sess, err := s.matcher.Join(r.Context(), userID(r), req.BucketSize)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusOK, joinRes{Status: "waiting"})
		return
	}
	writeJSON(w, http.StatusOK, joinRes{Status: "matched", Session: sess})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req queueReq
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.matcher.Leave(r.Context(), userID(r), req.BucketSize); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWaiting(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "bucket"))
	if err != nil {
		writeError(w, fmt.Errorf("bucket %q: %w", chi.URLParam(r, "bucket"), match.ErrInvalidBucket))
		return
	}
	entries, err := s.matcher.Waiting(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, waitingRes{BucketSize: n, Waiting: entries})
}
