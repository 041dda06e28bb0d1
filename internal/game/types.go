// apps/go-server/internal/game/types.go
//
// Core type definitions for the word grid session engine.
// Defines:
//   - Phase, Status, Presence: the small enums carried in session documents.
//   - Player, Session: the live, ephemeral session document.
//   - Action (Fill, ClaimBatch): what a player may submit on their turn.
//   - History: the immutable snapshot written when a session ends.
//   - Rules: the fixed game constants, overridable from config.

package game

import (
	"time"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/board"
)

const (
	BoardRows = 10
	BoardCols = 10

	// DefaultSelectThreshold is the board-wide filled-cell count that opens SELECT.
	DefaultSelectThreshold = 3
	DefaultTurnDuration    = 30 * time.Second
)

// Phase is the sub-state of an active session.
type Phase string

const (
	PhaseEdit   Phase = "EDIT"   // current player places one letter
	PhaseSelect Phase = "SELECT" // current player claims words
)

// Status of a session document. ENDED only lives between the transition and deletion.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusEnded  Status = "ENDED"
)

// Presence is a player's connection state inside a session.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresenceQuit    Presence = "quit"
)

// Valid reports whether p is a known presence value.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceQuit:
		return true
	}
	return false
}

// Player is one seat in a session. Seat order is turn order.
type Player struct {
	ID       string     `json:"id"`
	JoinedAt time.Time  `json:"joinedAt"`
	Presence Presence   `json:"presence"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

// Session is the live game document.
type Session struct {
	ID            string              `json:"id"`
	Players       []Player            `json:"players"`
	Board         board.Board         `json:"board"`
	Phase         Phase               `json:"phase"`
	CurrentPlayer string              `json:"currentPlayer"`
	TurnStartedAt time.Time           `json:"turnStartedAt"`
	Turn          int                 `json:"turn"`
	ClaimedWords  map[string][]string `json:"claimedWords"`
	Status        Status              `json:"status"`
	StartedAt     time.Time           `json:"startedAt"`
	EndedAt       *time.Time          `json:"endedAt,omitempty"`
}

// Rules holds the tunable constants of a game.
type Rules struct {
	SelectThreshold int
	TurnDuration    time.Duration
}

// DefaultRules returns the standard rules (threshold 3, 30s turns).
func DefaultRules() Rules {
	return Rules{SelectThreshold: DefaultSelectThreshold, TurnDuration: DefaultTurnDuration}
}

// Action is either a Fill or a ClaimBatch.
type Action interface {
	kind() string
}

// Fill places one letter during EDIT.
type Fill struct {
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Character string `json:"character"`
}

// Claim asserts that cells spell word.
type Claim struct {
	Word  string       `json:"word"`
	Cells []board.Cell `json:"cells"`
}

// ClaimBatch is every claim a player makes in one SELECT submission.
type ClaimBatch struct {
	Claims []Claim `json:"claims"`
}

func (Fill) kind() string       { return "fill" }
func (ClaimBatch) kind() string { return "claim" }

// PlayerRecord is a player's row in a finished game.
type PlayerRecord struct {
	ID       string     `json:"id"`
	Seat     int        `json:"seat"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
	Presence Presence   `json:"presence"`
}

// History is the durable snapshot of an ended session.
type History struct {
	SessionID    string              `json:"sessionId"`
	Board        board.Board         `json:"board"`
	Players      []PlayerRecord      `json:"players"`
	ClaimedWords map[string][]string `json:"claimedWords"`
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      time.Time           `json:"endedAt"`
}
