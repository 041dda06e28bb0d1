// apps/go-server/internal/session/service.go
//
// Session service: the only entry point that mutates a live session.
// Responsibilities:
//   - Submit player actions (fill, claim batch) as one store transaction.
//   - Run dictionary lookups before the transaction, with a timeout, so no
//     network I/O happens inside the retried transaction function.
//   - Track presence, and end the session once fewer than two players are online:
//     write history, clear every pointer, delete the live document, cancel
//     the turn timer.

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/words"
)

// maxLookupRounds bounds how often a submission goes back for lookups when
// the committed document reaches claims the snapshot did not.
const maxLookupRounds = 3

var errUnverified = errors.New("word was not looked up")

// Durable is the part of the durable store the service writes.
type Durable interface {
	ClearSession(ctx context.Context, userID, sessionID string) error
	Finalize(ctx context.Context, h game.History) error
}

// Timer is the turn scheduler.
type Timer interface {
	ScheduleSession(sess *game.Session)
	Cancel(sessionID string)
	Expire(ctx context.Context, sessionID string) (bool, error)
}

// Config wires a Service.
type Config struct {
	Sessions      *store.Sessions
	Dictionary    words.Checker
	Durable       Durable
	Timer         Timer
	Rules         game.Rules
	LookupTimeout time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Service applies actions and presence changes to live sessions.
type Service struct {
	sessions      *store.Sessions
	dict          words.Checker
	durable       Durable
	timer         Timer
	rules         game.Rules
	lookupTimeout time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// New returns a Service. Zero Rules fall back to game.DefaultRules; a zero
// LookupTimeout falls back to 3s.
func New(cfg Config) *Service {
	if cfg.Rules.SelectThreshold <= 0 || cfg.Rules.TurnDuration <= 0 {
		cfg.Rules = game.DefaultRules()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		sessions:      cfg.Sessions,
		dict:          cfg.Dictionary,
		durable:       cfg.Durable,
		timer:         cfg.Timer,
		rules:         cfg.Rules,
		lookupTimeout: cfg.LookupTimeout,
		now:           cfg.Now,
		log:           cfg.Logger.With().Str("component", "session").Logger(),
	}
}

// Get returns the live session. Ended sessions read as game.ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, id string) (*game.Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != game.StatusActive {
		return nil, game.ErrSessionNotFound
	}
	return sess, nil
}

// Watch streams committed versions of the session; nil means it ended.
func (s *Service) Watch(ctx context.Context, id string) (<-chan *game.Session, error) {
	return s.sessions.Watch(ctx, id)
}

// Submit validates and applies one action by userID and returns the
// committed session.
func (s *Service) Submit(ctx context.Context, sessionID, userID string, action game.Action) (*game.Session, error) {
	verdicts := map[string]error{}

	for round := 0; ; round++ {
		if batch, ok := action.(game.ClaimBatch); ok {
			if err := s.prefetch(ctx, sessionID, userID, batch, verdicts); err != nil {
				return nil, err
			}
		}

		before := -1
		next, _, err := s.sessions.Update(ctx, sessionID, func(cur *game.Session) (*game.Session, store.Op, error) {
			if cur == nil {
				return nil, store.OpNoop, game.ErrSessionNotFound
			}
			before = cur.Turn
			if err := cur.Apply(userID, action, cachedVerifier(verdicts), s.rules, s.now()); err != nil {
				return nil, store.OpNoop, err
			}
			return cur, store.OpPut, nil
		})
		if errors.Is(err, errUnverified) && round < maxLookupRounds {
			continue
		}
		if err != nil {
			if errors.Is(err, words.ErrLookupFailure) {
				s.log.Warn().Err(err).Str("session", sessionID).Str("user", userID).Msg("dictionary lookup failed")
			}
			return nil, err
		}

		if next.Turn != before && s.timer != nil {
			s.timer.ScheduleSession(next)
		}
		s.log.Debug().Str("session", sessionID).Str("user", userID).Str("phase", string(next.Phase)).Int("turn", next.Turn).Msg("action applied")
		return next, nil
	}
}

// prefetch runs the claim checks on a snapshot with live dictionary lookups
// and records every verdict it needed. Rule errors are left for the
// transaction to report against the fresh document.
func (s *Service) prefetch(ctx context.Context, sessionID, userID string, batch game.ClaimBatch, verdicts map[string]error) error {
	snap, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	lookup := func(word string) error {
		if v, ok := verdicts[word]; ok {
			return v
		}
		v := s.lookup(ctx, word)
		verdicts[word] = v
		return v
	}
	_ = snap.ApplyClaims(userID, batch.Claims, lookup, s.now())
	return nil
}

// lookup asks the dictionary once under the lookup timeout.
func (s *Service) lookup(ctx context.Context, word string) error {
	if s.dict == nil {
		return fmt.Errorf("no dictionary: %w", words.ErrLookupFailure)
	}
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	ok, err := s.dict.IsValidWord(ctx, word)
	switch {
	case err != nil:
		if !errors.Is(err, words.ErrLookupFailure) {
			err = fmt.Errorf("%w: %w", words.ErrLookupFailure, err)
		}
		return err
	case !ok:
		return game.ErrInvalidWord
	}
	return nil
}

func cachedVerifier(verdicts map[string]error) game.Verifier {
	return func(word string) error {
		v, ok := verdicts[word]
		if !ok {
			return errUnverified
		}
		return v
	}
}

// SetPresence records an online/offline change for userID. Use Quit to leave.
func (s *Service) SetPresence(ctx context.Context, sessionID, userID string, p game.Presence) (*game.Session, error) {
	if p == game.PresenceQuit {
		return nil, fmt.Errorf("use quit to leave: %w", game.ErrInvalidPresence)
	}
	return s.setPresence(ctx, sessionID, userID, p)
}

// Quit clears userID's session pointer and marks them quit. A quit is final.
func (s *Service) Quit(ctx context.Context, sessionID, userID string) (*game.Session, error) {
	if err := s.durable.ClearSession(ctx, userID, sessionID); err != nil {
		return nil, fmt.Errorf("clear pointer: %w", err)
	}
	return s.setPresence(ctx, sessionID, userID, game.PresenceQuit)
}

func (s *Service) setPresence(ctx context.Context, sessionID, userID string, p game.Presence) (*game.Session, error) {
	var (
		before       = -1
		ended, stuck bool
	)
	next, _, err := s.sessions.Update(ctx, sessionID, func(cur *game.Session) (*game.Session, store.Op, error) {
		ended, stuck = false, false
		if cur == nil {
			return nil, store.OpNoop, game.ErrSessionNotFound
		}
		if cur.Status == game.StatusEnded {
			stuck = true
			return nil, store.OpNoop, nil
		}
		before = cur.Turn
		e, err := cur.SetPresence(userID, p, s.now())
		if err != nil {
			return nil, store.OpNoop, err
		}
		ended = e
		return cur, store.OpPut, nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case stuck:
		// A previous finisher did not get through; finishing is idempotent.
		if err := s.finish(ctx, next); err != nil {
			return nil, err
		}
		return nil, game.ErrSessionNotFound
	case ended:
		if err := s.finish(ctx, next); err != nil {
			return nil, err
		}
	case next.Turn != before && s.timer != nil:
		s.timer.ScheduleSession(next)
	}
	s.log.Info().Str("session", sessionID).Str("user", userID).Str("presence", string(p)).Bool("ended", ended).Msg("presence changed")
	return next, nil
}

// Expire is the external timeout trigger for sessionID.
func (s *Service) Expire(ctx context.Context, sessionID string) (bool, error) {
	return s.timer.Expire(ctx, sessionID)
}

// finish persists history, clears pointers, deletes the live document and
// stops its timer.
func (s *Service) finish(ctx context.Context, sess *game.Session) error {
	if err := s.durable.Finalize(ctx, sess.History()); err != nil {
		s.log.Error().Err(err).Str("session", sess.ID).Msg("finalize failed")
		return fmt.Errorf("finalize %s: %w", sess.ID, err)
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		s.log.Error().Err(err).Str("session", sess.ID).Msg("delete failed")
		return fmt.Errorf("delete %s: %w", sess.ID, err)
	}
	if s.timer != nil {
		s.timer.Cancel(sess.ID)
	}
	s.log.Info().Str("session", sess.ID).Strs("players", sess.PlayerIDs()).Msg("session ended")
	return nil
}
