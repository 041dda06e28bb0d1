// apps/go-server/internal/game/errors.go
//
// Sentinel errors for every rule a session action can break.
// Callers match them with errors.Is; the HTTP layer maps each to a status.

package game

import (
	"errors"
	"fmt"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/board"
)

// Rule violations surfaced to the acting player.
var (
	ErrNotYourTurn         = errors.New("not your turn")
	ErrInvalidPhaseAction  = errors.New("action not allowed in current phase")
	ErrCellOccupied        = errors.New("cell is already filled")
	ErrOutOfBounds         = errors.New("cell is outside the board")
	ErrInvalidCharacter    = errors.New("character must be a single letter")
	ErrNoClaims            = errors.New("claim batch is empty")
	ErrGeometry            = board.ErrGeometry
	ErrIncompleteSelection = board.ErrIncompleteSelection
	ErrWordMismatch        = errors.New("word does not match selected cells")
	ErrInvalidWord         = errors.New("word is not in the dictionary")
	ErrWordAlreadyClaimed  = errors.New("word already claimed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrPlayerNotFound      = errors.New("player is not in this session")
	ErrInvalidPresence     = errors.New("unknown presence status")
	ErrAlreadyInSession    = errors.New("player already has an active session")
)

// AlreadyInSessionError names the player that blocked session creation.
// It matches ErrAlreadyInSession under errors.Is.
type AlreadyInSessionError struct {
	UserID    string
	SessionID string
}

func (e *AlreadyInSessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("user %s: %s", e.UserID, ErrAlreadyInSession)
	}
	return fmt.Sprintf("user %s is in session %s: %s", e.UserID, e.SessionID, ErrAlreadyInSession)
}

func (e *AlreadyInSessionError) Is(target error) bool { return target == ErrAlreadyInSession }
