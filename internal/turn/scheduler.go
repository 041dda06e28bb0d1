// apps/go-server/internal/turn/scheduler.go
//
// Turn timeouts.
// Responsibilities:
//   - Expire: the idempotent "advance if the turn has run out" transaction.
//   - One cancellable timer per live session that calls Expire at the deadline
//     and re-arms itself for the next committed turn.
//
// Player moves advance the turn inside their own action transaction; this
// package only covers the wall-clock trigger. Duplicate or late firings are
// harmless because Expire re-checks the deadline against the stored document.

package turn

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
)

// expireTimeout bounds one timer-driven Expire call.
const expireTimeout = 5 * time.Second

type timerEntry struct {
	t   *time.Timer
	gen uint64
}

// Scheduler owns the per-session turn timers.
type Scheduler struct {
	sessions *store.Sessions
	duration time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	timers  map[string]timerEntry
	gen     uint64
	stopped bool
}

// NewScheduler returns a scheduler for turns of length d. A nil now uses time.Now.
func NewScheduler(sessions *store.Sessions, d time.Duration, now func() time.Time, logger zerolog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		sessions: sessions,
		duration: d,
		now:      now,
		log:      logger.With().Str("component", "turn").Logger(),
		timers:   make(map[string]timerEntry),
	}
}

// Duration is the configured turn length.
func (s *Scheduler) Duration() time.Duration { return s.duration }

// Expire advances the turn of sessionID if it has run for at least the turn
// duration, and re-arms the timer for the new turn. It reports whether this
// call committed the advance. A missing or ended session, or an unexpired
// turn, is a silent no-op.
func (s *Scheduler) Expire(ctx context.Context, sessionID string) (bool, error) {
	advanced := false
	next, _, err := s.sessions.Update(ctx, sessionID, func(cur *game.Session) (*game.Session, store.Op, error) {
		advanced = false
		if cur == nil || cur.Status != game.StatusActive {
			return nil, store.OpNoop, nil
		}
		now := s.now()
		if !cur.TurnExpired(now, s.duration) {
			return nil, store.OpNoop, nil
		}
		cur.Advance(now)
		advanced = true
		return cur, store.OpPut, nil
	})
	if err != nil {
		return false, err
	}
	if advanced {
		s.log.Debug().Str("session", sessionID).Str("player", next.CurrentPlayer).Int("turn", next.Turn).Msg("turn expired")
		s.ScheduleSession(next)
	}
	return advanced, nil
}

// Schedule arms (or re-arms) the timer for sessionID to fire at deadline.
func (s *Scheduler) Schedule(sessionID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if e, ok := s.timers[sessionID]; ok {
		e.t.Stop()
	}
	s.gen++
	gen := s.gen
	wait := deadline.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	t := time.AfterFunc(wait, func() { s.fire(sessionID, gen) })
	s.timers[sessionID] = timerEntry{t: t, gen: gen}
}

// ScheduleSession arms the timer for the current turn of sess.
func (s *Scheduler) ScheduleSession(sess *game.Session) {
	if sess == nil || sess.Status != game.StatusActive {
		return
	}
	s.Schedule(sess.ID, sess.TurnDeadline(s.duration))
}

// Cancel stops the timer for sessionID, if any.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[sessionID]; ok {
		e.t.Stop()
		delete(s.timers, sessionID)
	}
}

// Pending reports whether a timer is armed for sessionID.
func (s *Scheduler) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Stop cancels every timer. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.timers {
		e.t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(sessionID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[sessionID]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.timers, sessionID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()

	if _, err := s.Expire(ctx, sessionID); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("turn expiry failed")
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		// Ended sessions are deleted; nothing left to arm.
		return
	}
	s.mu.Lock()
	_, rearmed := s.timers[sessionID]
	s.mu.Unlock()
	if !rearmed {
		s.ScheduleSession(sess)
	}
}
