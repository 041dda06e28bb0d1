// apps/go-server/internal/httpserver/routes_history.go
//
// Finished-game routes:
//   - GET /history?limit=N  → caller's recent games, newest first
//   - GET /history/{id}     → one game record

package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// mountHistory registers the finished-game routes.
func (s *Server) mountHistory(r chi.Router) {
	r.Get("/history", s.handleMyHistory)
	r.Get("/history/{id}", s.handleHistory)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.records.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// handleMyHistory lists the caller's recent games; ?limit=N (default 20).
func (s *Server) handleMyHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.records.HistoryForUser(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
