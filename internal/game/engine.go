// apps/go-server/internal/game/engine.go
//
// Turn-by-turn rules for a single word grid session.
// Responsibilities:
//   - Create sessions with an empty 10x10 board and a fixed seat order.
//   - Validate and apply EDIT fills and SELECT claim batches.
//   - Advance the turn through the fixed rotation.
//   - Track presence and decide when a session must end.
//
// Notes:
//   - Every method mutates the receiver in place and is meant to run inside a
//     store transaction on a private copy of the document.
//   - Dictionary checks are injected as a Verifier so the rules stay free of I/O.
package game

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/cases"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/board"
)

// Verifier reports whether word is in the dictionary; nil means valid.
type Verifier func(word string) error

// NewSession builds the initial document for a matched batch.
// Seat order is ascending JoinedAt with ties kept in batch order.
func NewSession(id string, players []Player, now time.Time) *Session {
	seats := append([]Player(nil), players...)
	sort.SliceStable(seats, func(i, j int) bool { return seats[i].JoinedAt.Before(seats[j].JoinedAt) })

	claimed := make(map[string][]string, len(seats))
	for i := range seats {
		seats[i].Presence = PresenceOnline
		seats[i].LeftAt = nil
		claimed[seats[i].ID] = []string{}
	}
	s := &Session{
		ID:            id,
		Players:       seats,
		Board:         board.New(BoardRows, BoardCols),
		Phase:         PhaseEdit,
		TurnStartedAt: now,
		ClaimedWords:  claimed,
		Status:        StatusActive,
		StartedAt:     now,
	}
	if len(seats) > 0 {
		s.CurrentPlayer = seats[0].ID
	}
	return s
}

// PlayerIDs returns the seat order.
func (s *Session) PlayerIDs() []string {
	out := make([]string, len(s.Players))
	for i, p := range s.Players {
		out[i] = p.ID
	}
	return out
}

// Player returns the seat for userID.
func (s *Session) Player(userID string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].ID == userID {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// Apply validates and applies action for userID.
func (s *Session) Apply(userID string, action Action, verify Verifier, rules Rules, now time.Time) error {
	switch a := action.(type) {
	case Fill:
		return s.ApplyFill(userID, a, rules, now)
	case ClaimBatch:
		return s.ApplyClaims(userID, a.Claims, verify, now)
	default:
		return ErrInvalidPhaseAction
	}
}

// checkActor enforces that the session is live and userID owns the turn.
func (s *Session) checkActor(userID string) error {
	if s.Status != StatusActive {
		return ErrSessionNotFound
	}
	if userID != s.CurrentPlayer {
		return ErrNotYourTurn
	}
	return nil
}

// ApplyFill places one letter during EDIT.
//
// Once the board holds rules.SelectThreshold letters the phase flips to SELECT
// and the same player keeps the turn; below the threshold the fill consumes
// the turn.
func (s *Session) ApplyFill(userID string, f Fill, rules Rules, now time.Time) error {
	if err := s.checkActor(userID); err != nil {
		return err
	}
	if s.Phase != PhaseEdit {
		return ErrInvalidPhaseAction
	}
	if !s.Board.InBounds(f.Row, f.Col) {
		return fmt.Errorf("(%d,%d): %w", f.Row, f.Col, ErrOutOfBounds)
	}
	letter, ok := normalizeLetter(f.Character)
	if !ok {
		return fmt.Errorf("%q: %w", f.Character, ErrInvalidCharacter)
	}
	if !board.IsEmptyCell(s.Board, f.Row, f.Col) {
		return fmt.Errorf("(%d,%d): %w", f.Row, f.Col, ErrCellOccupied)
	}

	s.Board[f.Row][f.Col] = letter

	if s.Board.FilledCount() >= rules.SelectThreshold {
		s.Phase = PhaseSelect
		return nil
	}
	s.Advance(now)
	return nil
}

// ApplyClaims validates a whole claim batch and commits it only if every
// claim passes. Claims are checked in order; the first failure is returned.
func (s *Session) ApplyClaims(userID string, claims []Claim, verify Verifier, now time.Time) error {
	if err := s.checkActor(userID); err != nil {
		return err
	}
	if s.Phase != PhaseSelect {
		return ErrInvalidPhaseAction
	}
	if len(claims) == 0 {
		return ErrNoClaims
	}

	pending := make(map[string]struct{}, len(claims))
	words := make([]string, 0, len(claims))
	for i, c := range claims {
		if err := board.ValidateLinearSelection(c.Cells); err != nil {
			return fmt.Errorf("claim %d: %w", i, err)
		}
		if err := board.ValidateCellsFilled(s.Board, c.Cells); err != nil {
			return fmt.Errorf("claim %d: %w", i, err)
		}
		built := board.BuildWord(s.Board, c.Cells)
		if foldWord(built) != foldWord(c.Word) {
			return fmt.Errorf("claim %d: %q vs %q: %w", i, c.Word, built, ErrWordMismatch)
		}
		if verify == nil {
			return fmt.Errorf("claim %d %q: %w", i, c.Word, ErrInvalidWord)
		}
		if err := verify(c.Word); err != nil {
			if !errors.Is(err, ErrInvalidWord) {
				err = fmt.Errorf("%w: %w", ErrInvalidWord, err)
			}
			return fmt.Errorf("claim %d %q: %w", i, c.Word, err)
		}
		key := foldWord(c.Word)
		if _, dup := pending[key]; dup || s.IsClaimed(c.Word) {
			return fmt.Errorf("claim %d %q: %w", i, c.Word, ErrWordAlreadyClaimed)
		}
		pending[key] = struct{}{}
		words = append(words, built)
	}

	if s.ClaimedWords == nil {
		s.ClaimedWords = make(map[string][]string)
	}
	s.ClaimedWords[userID] = append(s.ClaimedWords[userID], words...)
	s.Advance(now)
	return nil
}

// IsClaimed reports whether any player already holds word (case-insensitive).
func (s *Session) IsClaimed(word string) bool {
	key := foldWord(word)
	for _, list := range s.ClaimedWords {
		for _, w := range list {
			if foldWord(w) == key {
				return true
			}
		}
	}
	return false
}

// NextPlayer returns the seat after CurrentPlayer, wrapping, skipping seats
// that are not online. If nobody else is online the literal next seat is
// used; an unknown current player falls back to the first seat.
func (s *Session) NextPlayer() string {
	n := len(s.Players)
	if n == 0 {
		return ""
	}
	idx := -1
	for i, p := range s.Players {
		if p.ID == s.CurrentPlayer {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s.Players[0].ID
	}
	for step := 1; step <= n; step++ {
		p := s.Players[(idx+step)%n]
		if p.Presence == PresenceOnline {
			return p.ID
		}
	}
	return s.Players[(idx+1)%n].ID
}

// Advance hands the turn to the next player and reopens EDIT.
func (s *Session) Advance(now time.Time) {
	s.CurrentPlayer = s.NextPlayer()
	s.TurnStartedAt = now
	s.Phase = PhaseEdit
	s.Turn++
}

// TurnExpired reports whether the current turn has run for at least d.
func (s *Session) TurnExpired(now time.Time, d time.Duration) bool {
	return now.Sub(s.TurnStartedAt) >= d
}

// TurnDeadline is when the current turn times out.
func (s *Session) TurnDeadline(d time.Duration) time.Time {
	return s.TurnStartedAt.Add(d)
}

// OnlineCount counts players whose presence is online.
func (s *Session) OnlineCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Presence == PresenceOnline {
			n++
		}
	}
	return n
}

// SetPresence records a connection change for userID. A quit is final: later
// updates for that player are ignored. The returned bool is true when the
// session has dropped below two online players and was marked ENDED.
func (s *Session) SetPresence(userID string, p Presence, now time.Time) (bool, error) {
	if s.Status != StatusActive {
		return false, ErrSessionNotFound
	}
	if !p.Valid() {
		return false, fmt.Errorf("%q: %w", p, ErrInvalidPresence)
	}
	player, ok := s.Player(userID)
	if !ok {
		return false, ErrPlayerNotFound
	}
	if player.Presence != PresenceQuit {
		player.Presence = p
		if p == PresenceOnline {
			player.LeftAt = nil
		} else if player.LeftAt == nil {
			t := now
			player.LeftAt = &t
		}
	}

	if s.OnlineCount() < 2 {
		s.End(now)
		return true, nil
	}
	if cur, ok := s.Player(s.CurrentPlayer); !ok || cur.Presence != PresenceOnline {
		s.Advance(now)
	}
	return false, nil
}

// End marks the session ENDED. It is a one-way transition.
func (s *Session) End(now time.Time) {
	if s.Status == StatusEnded {
		return
	}
	s.Status = StatusEnded
	t := now
	s.EndedAt = &t
	for i := range s.Players {
		if s.Players[i].LeftAt == nil {
			s.Players[i].LeftAt = &t
		}
	}
}

// History snapshots an ended session for durable storage.
func (s *Session) History() History {
	players := make([]PlayerRecord, len(s.Players))
	for i, p := range s.Players {
		players[i] = PlayerRecord{ID: p.ID, Seat: i, JoinedAt: p.JoinedAt, LeftAt: p.LeftAt, Presence: p.Presence}
	}
	claimed := make(map[string][]string, len(s.ClaimedWords))
	for k, v := range s.ClaimedWords {
		claimed[k] = append([]string{}, v...)
	}
	h := History{
		SessionID:    s.ID,
		Board:        s.Board,
		Players:      players,
		ClaimedWords: claimed,
		StartedAt:    s.StartedAt,
	}
	if s.EndedAt != nil {
		h.EndedAt = *s.EndedAt
	}
	return h
}

// normalizeLetter accepts exactly one ASCII letter and returns it uppercased.
func normalizeLetter(ch string) (string, bool) {
	if len(ch) != 1 {
		return "", false
	}
	c := ch[0]
	switch {
	case c >= 'A' && c <= 'Z':
		return ch, true
	case c >= 'a' && c <= 'z':
		return string(c - 'a' + 'A'), true
	}
	return "", false
}

// foldWord is the comparison key for words.
func foldWord(w string) string {
	return cases.Fold().String(w)
}
