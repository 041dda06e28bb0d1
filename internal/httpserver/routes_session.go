// apps/go-server/internal/httpserver/routes_session.go
//
// Live session routes:
//   - GET  /sessions/{id}                       → current document
//   - POST /sessions/{id}/actions  fill | claim → submit a move
//   - POST /sessions/{id}/presence {status}     → online / offline
//   - POST /sessions/{id}/quit                  → leave for good
//   - POST /sessions/{id}/expire                → external turn-timeout trigger
//   - GET  /sessions/{id}/watch                 → websocket stream (see watch.go)
//
// Action bodies:
//   {"type":"fill","row":0,"col":0,"character":"C"}
//   {"type":"claim","claims":[{"word":"CAT","cells":[{"row":0,"col":0},...]}]}

package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
)

type actionReq struct {
	Type      string       `json:"type"`
	Row       int          `json:"row"`
	Col       int          `json:"col"`
	Character string       `json:"character"`
	Claims    []game.Claim `json:"claims"`
}

func (a actionReq) action() (game.Action, error) {
	switch a.Type {
	case "fill":
		return game.Fill{Row: a.Row, Col: a.Col, Character: a.Character}, nil
	case "claim":
		return game.ClaimBatch{Claims: a.Claims}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", errBadRequest, a.Type)
	}
}

type presenceReq struct {
	Status game.Presence `json:"status"`
}

func (s *Server) mountSessions(r chi.Router) {
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/watch", s.handleWatch)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout))
			r.Get("/", s.handleGetSession)
			r.Post("/actions", s.handleAction)
			r.Post("/presence", s.handlePresence)
			r.Post("/quit", s.handleQuit)
			r.Post("/expire", s.handleExpire)
		})
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionReq
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	action, err := req.action()
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.sessions.Submit(r.Context(), chi.URLParam(r, "id"), userID(r), action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	var req presenceReq
	if err := decode(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	sess, err := s.sessions.SetPresence(r.Context(), chi.URLParam(r, "id"), userID(r), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Quit(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ended": sess.Status == game.StatusEnded})
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	advanced, err := s.sessions.Expire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"advanced": advanced})
}
