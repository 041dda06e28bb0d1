// apps/go-server/internal/match/matcher.go
//
// Queue matchmaking.
// Responsibilities:
//   - Keep one waiting list per bucket size in the ephemeral store ("queues/<n>").
//   - Join / Leave with no side effects on other players.
//   - TryMatch: atomically take the first n entries and hand them to the
//     SessionFactory. Removal happens in a single transaction on the bucket
//     document, so concurrent triggers can never take the same players twice.
//
// If the factory refuses a batch, the players that are still free are put
// back at the head of the queue in their original order.

package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
)

// MinBucketSize is the smallest playable session.
const MinBucketSize = 2

// ErrInvalidBucket is returned for a bucket size outside the allowed range.
var ErrInvalidBucket = errors.New("invalid bucket size")

// Entry is one waiting player.
type Entry struct {
	UserID     string    `json:"userId"`
	BucketSize int       `json:"bucketSize"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// Queue is the document stored per bucket. Entries are in arrival order.
type Queue struct {
	Entries []Entry `json:"entries"`
}

func (q *Queue) index(userID string) int {
	for i, e := range q.Entries {
		if e.UserID == userID {
			return i
		}
	}
	return -1
}

// QueuePath is the document path of the waiting list for bucket n.
func QueuePath(n int) string { return "queues/" + strconv.Itoa(n) }

// Factory creates a session from a matched batch.
type Factory interface {
	Create(ctx context.Context, batch []Entry) (*game.Session, error)
}

// Pointers reads a user's active session pointer ("" when free).
type Pointers interface {
	CurrentSession(ctx context.Context, userID string) (string, error)
}

// Config wires a Matcher.
type Config struct {
	Docs      store.Documents
	Factory   Factory
	Pointers  Pointers
	MaxBucket int
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Matcher forms sessions from per-bucket queues.
type Matcher struct {
	docs      store.Documents
	factory   Factory
	pointers  Pointers
	maxBucket int
	now       func() time.Time
	log       zerolog.Logger
}

// New returns a Matcher. MaxBucket defaults to 8.
func New(cfg Config) *Matcher {
	if cfg.MaxBucket < MinBucketSize {
		cfg.MaxBucket = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Matcher{
		docs:      cfg.Docs,
		factory:   cfg.Factory,
		pointers:  cfg.Pointers,
		maxBucket: cfg.MaxBucket,
		now:       cfg.Now,
		log:       cfg.Logger.With().Str("component", "match").Logger(),
	}
}

func (m *Matcher) checkBucket(n int) error {
	if n < MinBucketSize || n > m.maxBucket {
		return fmt.Errorf("%d not in [%d,%d]: %w", n, MinBucketSize, m.maxBucket, ErrInvalidBucket)
	}
	return nil
}

// Join queues userID for bucket n and attempts a match. It returns the
// session the user was placed in by this call, or nil if still waiting.
// Joining twice is a no-op apart from the match attempt.
func (m *Matcher) Join(ctx context.Context, userID string, n int) (*game.Session, error) {
	if err := m.checkBucket(n); err != nil {
		return nil, err
	}
	cur, err := m.pointers.CurrentSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read pointer: %w", err)
	}
	if cur != "" {
		return nil, &game.AlreadyInSessionError{UserID: userID, SessionID: cur}
	}

	entry := Entry{UserID: userID, BucketSize: n, JoinedAt: m.now()}
	_, _, err = store.Update(ctx, m.docs, QueuePath(n), func(q *Queue) (*Queue, store.Op, error) {
		if q == nil {
			q = &Queue{}
		}
		if q.index(userID) >= 0 {
			return nil, store.OpNoop, nil
		}
		q.Entries = append(q.Entries, entry)
		return q, store.OpPut, nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug().Str("user", userID).Int("bucket", n).Msg("joined queue")

	formed, err := m.TryMatch(ctx, n)
	if err != nil {
		return nil, err
	}
	for _, s := range formed {
		if _, ok := s.Player(userID); ok {
			return s, nil
		}
	}
	return nil, nil
}

// Leave removes userID from bucket n. Leaving when not queued is not an error.
func (m *Matcher) Leave(ctx context.Context, userID string, n int) error {
	if err := m.checkBucket(n); err != nil {
		return err
	}
	_, _, err := store.Update(ctx, m.docs, QueuePath(n), func(q *Queue) (*Queue, store.Op, error) {
		if q == nil {
			return nil, store.OpNoop, nil
		}
		i := q.index(userID)
		if i < 0 {
			return nil, store.OpNoop, nil
		}
		q.Entries = append(q.Entries[:i], q.Entries[i+1:]...)
		if len(q.Entries) == 0 {
			return nil, store.OpDelete, nil
		}
		return q, store.OpPut, nil
	})
	return err
}

// Waiting returns a snapshot of bucket n in match order.
func (m *Matcher) Waiting(ctx context.Context, n int) ([]Entry, error) {
	if err := m.checkBucket(n); err != nil {
		return nil, err
	}
	q, err := store.Load[Queue](ctx, m.docs, QueuePath(n))
	if errors.Is(err, store.ErrNotFound) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := append([]Entry{}, q.Entries...)
	sortEntries(out)
	return out, nil
}

// TryMatch forms as many sessions from bucket n as the queue allows and
// returns them. An underfull queue is a silent no-op.
func (m *Matcher) TryMatch(ctx context.Context, n int) ([]*game.Session, error) {
	if err := m.checkBucket(n); err != nil {
		return nil, err
	}
	var formed []*game.Session
	for {
		batch, err := m.take(ctx, n)
		if err != nil {
			return formed, err
		}
		if batch == nil {
			return formed, nil
		}

		sess, err := m.factory.Create(ctx, batch)
		if err == nil {
			formed = append(formed, sess)
			continue
		}
		if !errors.Is(err, game.ErrAlreadyInSession) {
			if rerr := m.requeue(ctx, n, batch); rerr != nil {
				m.log.Error().Err(rerr).Int("bucket", n).Msg("requeue after failed create")
			}
			return formed, err
		}

		m.log.Warn().Err(err).Int("bucket", n).Msg("batch refused, requeueing free players")
		free := make([]Entry, 0, len(batch))
		for _, e := range batch {
			cur, perr := m.pointers.CurrentSession(ctx, e.UserID)
			if perr != nil {
				return formed, fmt.Errorf("read pointer: %w", perr)
			}
			if cur == "" {
				free = append(free, e)
			}
		}
		if err := m.requeue(ctx, n, free); err != nil {
			return formed, err
		}
		if len(free) == len(batch) {
			// Nobody was dropped, so retrying would refuse the same batch.
			return formed, nil
		}
	}
}

// take removes and returns the first n entries, or nil if fewer are waiting.
func (m *Matcher) take(ctx context.Context, n int) ([]Entry, error) {
	var batch []Entry
	_, _, err := store.Update(ctx, m.docs, QueuePath(n), func(q *Queue) (*Queue, store.Op, error) {
		batch = nil
		if q == nil || len(q.Entries) < n {
			return nil, store.OpNoop, nil
		}
		sortEntries(q.Entries)
		batch = append([]Entry{}, q.Entries[:n]...)
		q.Entries = q.Entries[n:]
		if len(q.Entries) == 0 {
			return nil, store.OpDelete, nil
		}
		return q, store.OpPut, nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// requeue puts entries back at the head of bucket n, skipping anyone who
// rejoined in the meantime.
func (m *Matcher) requeue(ctx context.Context, n int, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	_, _, err := store.Update(ctx, m.docs, QueuePath(n), func(q *Queue) (*Queue, store.Op, error) {
		if q == nil {
			q = &Queue{}
		}
		head := make([]Entry, 0, len(entries)+len(q.Entries))
		for _, e := range entries {
			if q.index(e.UserID) < 0 {
				head = append(head, e)
			}
		}
		q.Entries = append(head, q.Entries...)
		return q, store.OpPut, nil
	})
	return err
}

// sortEntries orders by join time, keeping arrival order for ties.
func sortEntries(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool { return es[i].JoinedAt.Before(es[j].JoinedAt) })
}
