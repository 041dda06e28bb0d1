package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
)

// Linker records session pointers in the durable store.
type Linker interface {
	LinkSession(ctx context.Context, sessionID string, userIDs []string) error
	ClearSession(ctx context.Context, userID, sessionID string) error
}

// TurnTimer arms the turn timeout for a new session.
type TurnTimer interface {
	ScheduleSession(sess *game.Session)
}

// SessionFactory turns a matched batch into a live session.
type SessionFactory struct {
	sessions *store.Sessions
	links    Linker
	timer    TurnTimer
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
}

// NewSessionFactory wires a factory. timer may be nil.
func NewSessionFactory(sessions *store.Sessions, links Linker, timer TurnTimer, now func() time.Time, logger zerolog.Logger) *SessionFactory {
	if now == nil {
		now = time.Now
	}
	return &SessionFactory{
		sessions: sessions,
		links:    links,
		timer:    timer,
		now:      now,
		newID:    uuid.NewString,
		log:      logger.With().Str("component", "factory").Logger(),
	}
}

// Create builds the session for batch, in batch order.
//
// Every player is linked to the new id in one durable transaction first; if
// any already has a pointer the whole batch is refused with
// *game.AlreadyInSessionError and nothing is created.
func (f *SessionFactory) Create(ctx context.Context, batch []Entry) (*game.Session, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("match: empty batch")
	}
	id := f.newID()
	users := make([]string, len(batch))
	players := make([]game.Player, len(batch))
	for i, e := range batch {
		users[i] = e.UserID
		players[i] = game.Player{ID: e.UserID, JoinedAt: e.JoinedAt}
	}

	if err := f.links.LinkSession(ctx, id, users); err != nil {
		return nil, err
	}

	sess := game.NewSession(id, players, f.now())
	if err := f.sessions.Create(ctx, sess); err != nil {
		for _, u := range users {
			if cerr := f.links.ClearSession(ctx, u, id); cerr != nil {
				f.log.Error().Err(cerr).Str("session", id).Str("user", u).Msg("unlink after failed create")
			}
		}
		return nil, fmt.Errorf("store session %s: %w", id, err)
	}
	if f.timer != nil {
		f.timer.ScheduleSession(sess)
	}
	f.log.Info().Str("session", id).Strs("players", users).Msg("session created")
	return sess, nil
}
