package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
)

// SessionPath is the document path of a live session.
func SessionPath(id string) string { return "sessions/" + id }

// Sessions is the typed view of session documents.
type Sessions struct {
	docs Documents
}

// NewSessions wraps docs.
func NewSessions(docs Documents) *Sessions {
	return &Sessions{docs: docs}
}

// Get loads a live session. Missing documents map to game.ErrSessionNotFound.
func (s *Sessions) Get(ctx context.Context, id string) (*game.Session, error) {
	sess, err := Load[game.Session](ctx, s.docs, SessionPath(id))
	if errors.Is(err, ErrNotFound) {
		return nil, game.ErrSessionNotFound
	}
	return sess, err
}

// Create stores a new session; it fails if the id is already taken.
func (s *Sessions) Create(ctx context.Context, sess *game.Session) error {
	_, _, err := Update(ctx, s.docs, SessionPath(sess.ID), func(cur *game.Session) (*game.Session, Op, error) {
		if cur != nil {
			return nil, OpNoop, errors.New("store: session id already exists")
		}
		return sess, OpPut, nil
	})
	return err
}

// Update runs fn against the current session inside a transaction.
// fn receives nil when the session does not exist.
func (s *Sessions) Update(ctx context.Context, id string, fn func(cur *game.Session) (*game.Session, Op, error)) (*game.Session, Op, error) {
	return Update(ctx, s.docs, SessionPath(id), fn)
}

// Delete removes the session document.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	_, _, err := s.docs.Transact(ctx, SessionPath(id), func([]byte) ([]byte, Op, error) {
		return nil, OpDelete, nil
	})
	return err
}

// Watch streams committed versions of the session; nil means it was deleted.
// Undecodable updates are skipped.
func (s *Sessions) Watch(ctx context.Context, id string) (<-chan *game.Session, error) {
	raw, err := s.docs.Watch(ctx, SessionPath(id))
	if err != nil {
		return nil, err
	}
	out := make(chan *game.Session, watchBuffer)
	go func() {
		defer close(out)
		for b := range raw {
			var sess *game.Session
			if b != nil {
				sess = new(game.Session)
				if err := json.Unmarshal(b, sess); err != nil {
					continue
				}
			}
			select {
			case out <- sess:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
