// apps/go-server/internal/httpserver/errors.go
//
// Error responses: {"error": code, "message": ..., "retryable": bool}.
// writeError is the only place errors become status codes.

package httpserver

import (
	"errors"
	"net/http"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/durable"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/match"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/words"
)

// apiError is the JSON error body.
type apiError struct {
	Code      string `json:"error"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{errBadRequest, http.StatusBadRequest, "bad_request"},
	{match.ErrInvalidBucket, http.StatusBadRequest, "invalid_bucket"},
	{game.ErrOutOfBounds, http.StatusBadRequest, "out_of_bounds"},
	{game.ErrInvalidCharacter, http.StatusBadRequest, "invalid_character"},
	{game.ErrNoClaims, http.StatusBadRequest, "no_claims"},
	{game.ErrInvalidPresence, http.StatusBadRequest, "invalid_presence"},

	{game.ErrNotYourTurn, http.StatusForbidden, "not_your_turn"},
	{game.ErrPlayerNotFound, http.StatusForbidden, "not_a_player"},

	{game.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{durable.ErrNotFound, http.StatusNotFound, "not_found"},

	{game.ErrInvalidPhaseAction, http.StatusConflict, "invalid_phase_action"},
	{game.ErrCellOccupied, http.StatusConflict, "cell_occupied"},
	{game.ErrWordAlreadyClaimed, http.StatusConflict, "word_already_claimed"},
	{game.ErrAlreadyInSession, http.StatusConflict, "already_in_session"},

	{game.ErrGeometry, http.StatusUnprocessableEntity, "geometry"},
	{game.ErrIncompleteSelection, http.StatusUnprocessableEntity, "incomplete_selection"},
	{game.ErrWordMismatch, http.StatusUnprocessableEntity, "word_mismatch"},
	{game.ErrInvalidWord, http.StatusUnprocessableEntity, "invalid_word"},

	{store.ErrContention, http.StatusServiceUnavailable, "contention"},
}

var errBadRequest = errors.New("bad request")

// writeError maps err onto a status code and JSON body. Unknown errors are 500.
func writeError(w http.ResponseWriter, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			writeJSON(w, e.status, apiError{
				Code:      e.code,
				Message:   err.Error(),
				Retryable: errors.Is(err, words.ErrLookupFailure) || errors.Is(err, store.ErrContention),
			})
			return
		}
	}
	writeJSON(w, http.StatusInternalServerError, apiError{Code: "internal", Message: "internal error"})
}
