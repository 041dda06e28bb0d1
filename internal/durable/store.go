// apps/go-server/internal/durable/store.go
//
// Durable store over SQLite.
// Responsibilities:
//   - User rows and their current_session_id pointer (one live session per user).
//   - Linking a matched batch all-or-nothing, clearing pointers on quit.
//   - Finalizing ended sessions into game_history exactly once.

package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
)

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("durable: not found")

// Store wraps the SQLite handle with the engine's durable operations:
// user session pointers and finished game history.
type Store struct{ db *sql.DB }

// NewStore wraps an opened, migrated database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// EnsureUser creates the user row if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
		userID, formatTime(time.Now()),
	)
	return err
}

// CurrentSession returns the user's active session id, or "" when none.
func (s *Store) CurrentSession(ctx context.Context, userID string) (string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT current_session_id FROM users WHERE id=?`, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.String, nil
}

// LinkSession points every user at sessionID in one transaction. If any of
// them already has a pointer nothing is written and an
// *game.AlreadyInSessionError names the first offender.
func (s *Store) LinkSession(ctx context.Context, sessionID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	for _, id := range userIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`, id, now); err != nil {
			return fmt.Errorf("ensure user %s: %w", id, err)
		}
		var cur sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT current_session_id FROM users WHERE id=?`, id).Scan(&cur); err != nil {
			return fmt.Errorf("read user %s: %w", id, err)
		}
		if cur.String != "" {
			return &game.AlreadyInSessionError{UserID: id, SessionID: cur.String}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET current_session_id=? WHERE id=?`, sessionID, id); err != nil {
			return fmt.Errorf("link user %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClearSession drops userID's pointer if it still points at sessionID.
func (s *Store) ClearSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET current_session_id=NULL WHERE id=? AND current_session_id=?`,
		userID, sessionID,
	)
	return err
}

// UsersInSession lists users whose pointer is sessionID.
func (s *Store) UsersInSession(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE current_session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Finalize writes the history snapshot and clears every pointer to the
// session in a single transaction. Writing the same session twice is a no-op.
func (s *Store) Finalize(ctx context.Context, h game.History) error {
	boardJSON, err := json.Marshal(h.Board)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}
	claimsJSON, err := json.Marshal(h.ClaimedWords)
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
        INSERT OR IGNORE INTO game_history (session_id, board, claimed_words, started_at, ended_at)
        VALUES (?, ?, ?, ?, ?)`,
		h.SessionID, string(boardJSON), string(claimsJSON), formatTime(h.StartedAt), formatTime(h.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		for _, p := range h.Players {
			var left any
			if p.LeftAt != nil {
				left = formatTime(*p.LeftAt)
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO game_history_players (session_id, user_id, seat, joined_at, left_at, presence)
                VALUES (?, ?, ?, ?, ?, ?)`,
				h.SessionID, p.ID, p.Seat, formatTime(p.JoinedAt), left, string(p.Presence),
			); err != nil {
				return fmt.Errorf("insert history player %s: %w", p.ID, err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET current_session_id=NULL WHERE current_session_id=?`, h.SessionID); err != nil {
		return fmt.Errorf("clear pointers: %w", err)
	}
	return tx.Commit()
}

// History loads one finished game.
func (s *Store) History(ctx context.Context, sessionID string) (*game.History, error) {
	var (
		h                  game.History
		boardJSON, claims  string
		startedAt, endedAt string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT session_id, board, claimed_words, started_at, ended_at
        FROM game_history WHERE session_id=?`, sessionID,
	).Scan(&h.SessionID, &boardJSON, &claims, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(boardJSON), &h.Board); err != nil {
		return nil, fmt.Errorf("decode board: %w", err)
	}
	if err := json.Unmarshal([]byte(claims), &h.ClaimedWords); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	h.StartedAt = parseTime(startedAt)
	h.EndedAt = parseTime(endedAt)

	rows, err := s.db.QueryContext(ctx, `
        SELECT user_id, seat, joined_at, COALESCE(left_at, ''), presence
        FROM game_history_players WHERE session_id=? ORDER BY seat`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p            game.PlayerRecord
			joined, left string
			presence     string
		)
		if err := rows.Scan(&p.ID, &p.Seat, &joined, &left, &presence); err != nil {
			return nil, err
		}
		p.JoinedAt = parseTime(joined)
		if left != "" {
			t := parseTime(left)
			p.LeftAt = &t
		}
		p.Presence = game.Presence(presence)
		h.Players = append(h.Players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &h, nil
}

// HistoryForUser returns the most recent finished games for userID.
// Default limit is 20 if not specified.
func (s *Store) HistoryForUser(ctx context.Context, userID string, limit int) ([]game.History, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT h.session_id
        FROM game_history h
        JOIN game_history_players p ON p.session_id = h.session_id
        WHERE p.user_id=?
        ORDER BY h.ended_at DESC
        LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	out := make([]game.History, 0, len(ids))
	for _, id := range ids {
		h, err := s.History(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// parseTime parses RFC3339 timestamps; on error returns zero time.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
