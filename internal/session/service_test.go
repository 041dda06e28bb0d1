package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/board"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/durable"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/match"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/store"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/turn"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/words"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type brokenDictionary struct{ calls int }

func (b *brokenDictionary) IsValidWord(context.Context, string) (bool, error) {
	b.calls++
	return false, fmt.Errorf("%w: upstream 503", words.ErrLookupFailure)
}

// countingDictionary records how many lookups reach the word list.
type countingDictionary struct {
	words.Checker
	mu    sync.Mutex
	calls int
}

func (c *countingDictionary) IsValidWord(ctx context.Context, word string) (bool, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Checker.IsValidWord(ctx, word)
}

func (c *countingDictionary) lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// staleDocs answers Get with a frozen copy of a document, standing in for a
// snapshot read that lost a race with later commits. Transact is untouched.
type staleDocs struct {
	store.Documents
	mu     sync.Mutex
	frozen []byte
	left   int // stale reads still to serve; negative means forever
	served int
}

func (d *staleDocs) freeze(t *testing.T, path string, reads int) {
	t.Helper()
	b, err := d.Documents.Get(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	d.frozen, d.left = b, reads
	d.mu.Unlock()
}

func (d *staleDocs) thaw() {
	d.mu.Lock()
	d.left = 0
	d.mu.Unlock()
}

func (d *staleDocs) staleReads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.served
}

func (d *staleDocs) Get(ctx context.Context, path string) ([]byte, error) {
	d.mu.Lock()
	if d.left != 0 && d.frozen != nil {
		if d.left > 0 {
			d.left--
		}
		d.served++
		b := append([]byte(nil), d.frozen...)
		d.mu.Unlock()
		return b, nil
	}
	d.mu.Unlock()
	return d.Documents.Get(ctx, path)
}

type env struct {
	svc     *Service
	sched   *turn.Scheduler
	durable *durable.Store
	clock   *clock
	sess    *game.Session
}

func newEnv(t *testing.T, dict words.Checker) *env {
	t.Helper()
	return newEnvWith(t, dict, nil)
}

// newEnvWith builds an env whose ephemeral store is passed through wrap.
func newEnvWith(t *testing.T, dict words.Checker, wrap func(store.Documents) store.Documents) *env {
	t.Helper()
	db, err := durable.Open(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := durable.Migrate(db, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	ds := durable.NewStore(db)

	clk := &clock{t: time.Date(2026, 7, 4, 10, 0, 0, 0, time.UTC)}
	docs := store.NewMemory(zerolog.Nop())
	if wrap != nil {
		docs = wrap(docs)
	}
	sessions := store.NewSessions(docs)
	sched := turn.NewScheduler(sessions, game.DefaultTurnDuration, clk.Now, zerolog.Nop())
	t.Cleanup(sched.Stop)

	factory := match.NewSessionFactory(sessions, ds, sched, clk.Now, zerolog.Nop())
	base := clk.Now()
	sess, err := factory.Create(context.Background(), []match.Entry{
		{UserID: "p1", BucketSize: 3, JoinedAt: base},
		{UserID: "p2", BucketSize: 3, JoinedAt: base.Add(time.Second)},
		{UserID: "p3", BucketSize: 3, JoinedAt: base.Add(2 * time.Second)},
	})
	if err != nil {
		t.Fatal(err)
	}

	svc := New(Config{
		Sessions:      sessions,
		Dictionary:    dict,
		Durable:       ds,
		Timer:         sched,
		Rules:         game.DefaultRules(),
		LookupTimeout: time.Second,
		Now:           clk.Now,
		Logger:        zerolog.Nop(),
	})
	return &env{svc: svc, sched: sched, durable: ds, clock: clk, sess: sess}
}

func (e *env) fill(t *testing.T, user string, row, col int, ch string) *game.Session {
	t.Helper()
	e.clock.Add(time.Second)
	s, err := e.svc.Submit(context.Background(), e.sess.ID, user, game.Fill{Row: row, Col: col, Character: ch})
	if err != nil {
		t.Fatalf("%s fill (%d,%d)=%s: %v", user, row, col, ch, err)
	}
	return s
}

func catClaim() game.ClaimBatch {
	return game.ClaimBatch{Claims: []game.Claim{{
		Word:  "CAT",
		Cells: []board.Cell{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 0, Col: 2}},
	}}}
}

func TestSubmit_FillsThenClaim(t *testing.T) {
	e := newEnv(t, words.NewList([]string{"cat"}))
	ctx := context.Background()

	s := e.fill(t, "p1", 0, 0, "C")
	if s.CurrentPlayer != "p2" || s.Phase != game.PhaseEdit {
		t.Fatalf("after fill 1: current=%s phase=%s", s.CurrentPlayer, s.Phase)
	}
	e.fill(t, "p2", 0, 1, "a")
	s = e.fill(t, "p3", 0, 2, "T")
	if s.Phase != game.PhaseSelect || s.CurrentPlayer != "p3" {
		t.Fatalf("after fill 3: current=%s phase=%s, want p3 SELECT", s.CurrentPlayer, s.Phase)
	}

	e.clock.Add(time.Second)
	s, err := e.svc.Submit(ctx, e.sess.ID, "p3", catClaim())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.ClaimedWords["p3"]; len(got) != 1 || got[0] != "CAT" {
		t.Fatalf("claims = %v", s.ClaimedWords)
	}
	if s.CurrentPlayer != "p1" || s.Phase != game.PhaseEdit {
		t.Fatalf("after claim: current=%s phase=%s", s.CurrentPlayer, s.Phase)
	}
	if !s.TurnStartedAt.Equal(e.clock.Now()) {
		t.Errorf("turnStartedAt = %v", s.TurnStartedAt)
	}
	if !e.sched.Pending(e.sess.ID) {
		t.Error("turn timer should be armed")
	}

	// Board already holds three letters, so the next fill opens SELECT at once.
	s = e.fill(t, "p1", 5, 5, "X")
	if s.Phase != game.PhaseSelect || s.CurrentPlayer != "p1" {
		t.Fatalf("current=%s phase=%s", s.CurrentPlayer, s.Phase)
	}
	_, err = e.svc.Submit(ctx, e.sess.ID, "p1", catClaim())
	if !errors.Is(err, game.ErrWordAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrWordAlreadyClaimed", err)
	}
	got, _ := e.svc.Get(ctx, e.sess.ID)
	if len(got.ClaimedWords["p1"]) != 0 || got.CurrentPlayer != "p1" {
		t.Fatalf("rejected claim changed state: %+v", got.ClaimedWords)
	}
}

func TestSubmit_LookupFailureIsInvalidWord(t *testing.T) {
	dict := &brokenDictionary{}
	e := newEnv(t, dict)
	e.fill(t, "p1", 0, 0, "C")
	e.fill(t, "p2", 0, 1, "A")
	e.fill(t, "p3", 0, 2, "T")

	_, err := e.svc.Submit(context.Background(), e.sess.ID, "p3", catClaim())
	if !errors.Is(err, game.ErrInvalidWord) || !errors.Is(err, words.ErrLookupFailure) {
		t.Fatalf("err = %v, want ErrInvalidWord wrapping ErrLookupFailure", err)
	}
	if dict.calls != 1 {
		t.Errorf("lookups = %d, want 1", dict.calls)
	}
	got, _ := e.svc.Get(context.Background(), e.sess.ID)
	if len(got.ClaimedWords["p3"]) != 0 || got.Phase != game.PhaseSelect {
		t.Fatalf("state changed after failed claim: phase=%s claims=%v", got.Phase, got.ClaimedWords)
	}
}

func TestSubmit_RejectsWrongPlayerAndMissingSession(t *testing.T) {
	e := newEnv(t, words.NewList([]string{"cat"}))
	ctx := context.Background()

	_, err := e.svc.Submit(ctx, e.sess.ID, "p2", game.Fill{Row: 0, Col: 0, Character: "A"})
	if !errors.Is(err, game.ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	_, err = e.svc.Submit(ctx, e.sess.ID, "p1", game.ClaimBatch{})
	if !errors.Is(err, game.ErrInvalidPhaseAction) {
		t.Fatalf("claim in EDIT: err = %v", err)
	}
	_, err = e.svc.Submit(ctx, "missing", "p1", game.Fill{Row: 0, Col: 0, Character: "A"})
	if !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPresence_ScenarioE(t *testing.T) {
	e := newEnv(t, words.NewList([]string{"cat"}))
	ctx := context.Background()

	s, err := e.svc.SetPresence(ctx, e.sess.ID, "p2", game.PresenceOffline)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != game.StatusActive {
		t.Fatal("two players still online; session should stay active")
	}

	e.clock.Add(time.Second)
	if _, err := e.svc.Quit(ctx, e.sess.ID, "p3"); err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.Get(ctx, e.sess.ID); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("session still readable: %v", err)
	}
	for _, u := range []string{"p1", "p2", "p3"} {
		if cur, err := e.durable.CurrentSession(ctx, u); err != nil || cur != "" {
			t.Errorf("%s pointer = %q err=%v", u, cur, err)
		}
	}
	h, err := e.durable.History(ctx, e.sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Players) != 3 || h.Players[2].Presence != game.PresenceQuit || h.Players[1].Presence != game.PresenceOffline {
		t.Fatalf("history players = %+v", h.Players)
	}
	if h.EndedAt.IsZero() {
		t.Error("history has no end time")
	}
	if e.sched.Pending(e.sess.ID) {
		t.Error("timer should be cancelled")
	}

	_, err = e.svc.Submit(ctx, e.sess.ID, "p1", game.Fill{Row: 0, Col: 0, Character: "A"})
	if !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("action after end: err = %v", err)
	}
}

func TestPresence_CurrentPlayerOfflineAdvances(t *testing.T) {
	e := newEnv(t, words.NewList([]string{"cat"}))
	s, err := e.svc.SetPresence(context.Background(), e.sess.ID, "p1", game.PresenceOffline)
	if err != nil {
		t.Fatal(err)
	}
	if s.CurrentPlayer != "p2" || s.Turn != 1 {
		t.Fatalf("current=%s turn=%d, want p2 1", s.CurrentPlayer, s.Turn)
	}
}

func TestPresence_QuitIsFinal(t *testing.T) {
	e := newEnv(t, words.NewList([]string{"cat"}))
	ctx := context.Background()

	if _, err := e.svc.SetPresence(ctx, e.sess.ID, "p2", game.PresenceQuit); !errors.Is(err, game.ErrInvalidPresence) {
		t.Fatalf("quit through SetPresence: err = %v", err)
	}
	if _, err := e.svc.Quit(ctx, e.sess.ID, "p2"); err != nil {
		t.Fatal(err)
	}
	if cur, _ := e.durable.CurrentSession(ctx, "p2"); cur != "" {
		t.Fatalf("p2 pointer not cleared: %q", cur)
	}
	s, err := e.svc.SetPresence(ctx, e.sess.ID, "p2", game.PresenceOnline)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := s.Player("p2")
	if p.Presence != game.PresenceQuit {
		t.Fatalf("presence = %s, want quit", p.Presence)
	}
}

func TestExpire_ThroughService(t *testing.T) {
	e := newEnv(t, words.NewList([]string{"cat"}))
	ctx := context.Background()

	if ok, err := e.svc.Expire(ctx, e.sess.ID); err != nil || ok {
		t.Fatalf("fresh turn: ok=%v err=%v", ok, err)
	}
	e.clock.Add(game.DefaultTurnDuration)
	if ok, err := e.svc.Expire(ctx, e.sess.ID); err != nil || !ok {
		t.Fatalf("expired turn: ok=%v err=%v", ok, err)
	}
	if ok, _ := e.svc.Expire(ctx, e.sess.ID); ok {
		t.Fatal("second expiry advanced again")
	}
	s, _ := e.svc.Get(ctx, e.sess.ID)
	if s.CurrentPlayer != "p2" {
		t.Fatalf("current = %s, want p2", s.CurrentPlayer)
	}
}

// stalePrefetchEnv freezes the opening EDIT snapshot, then fills CAT so p3
// holds a SELECT turn in the live document.
func stalePrefetchEnv(t *testing.T, reads int) (*env, *staleDocs, *countingDictionary) {
	t.Helper()
	dict := &countingDictionary{Checker: words.NewList([]string{"cat"})}
	docs := &staleDocs{}
	e := newEnvWith(t, dict, func(d store.Documents) store.Documents {
		docs.Documents = d
		return docs
	})
	docs.freeze(t, store.SessionPath(e.sess.ID), reads)
	e.fill(t, "p1", 0, 0, "C")
	e.fill(t, "p2", 0, 1, "A")
	e.fill(t, "p3", 0, 2, "T")
	return e, docs, dict
}

func TestSubmit_StaleSnapshotTriggersAnotherLookupRound(t *testing.T) {
	e, docs, dict := stalePrefetchEnv(t, 1)

	// The frozen snapshot is EDIT with p1 to move, so the first pre-pass
	// looks nothing up and the transaction finds CAT unverified.
	s, err := e.svc.Submit(context.Background(), e.sess.ID, "p3", catClaim())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.ClaimedWords["p3"]; len(got) != 1 || got[0] != "CAT" {
		t.Fatalf("claims = %v", s.ClaimedWords)
	}
	if s.CurrentPlayer != "p1" || s.Phase != game.PhaseEdit {
		t.Fatalf("current=%s phase=%s", s.CurrentPlayer, s.Phase)
	}
	if n := docs.staleReads(); n != 1 {
		t.Errorf("stale reads = %d, want 1", n)
	}
	if n := dict.lookups(); n != 1 {
		t.Errorf("lookups = %d, want 1", n)
	}
}

func TestSubmit_UnverifiedAfterLastRoundFailsClosed(t *testing.T) {
	e, docs, dict := stalePrefetchEnv(t, -1)

	_, err := e.svc.Submit(context.Background(), e.sess.ID, "p3", catClaim())
	if !errors.Is(err, game.ErrInvalidWord) {
		t.Fatalf("err = %v, want ErrInvalidWord", err)
	}
	if n := docs.staleReads(); n != maxLookupRounds+1 {
		t.Errorf("pre-passes = %d, want %d", n, maxLookupRounds+1)
	}
	if n := dict.lookups(); n != 0 {
		t.Errorf("lookups = %d, want 0", n)
	}

	docs.thaw()
	got, err := e.svc.Get(context.Background(), e.sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ClaimedWords["p3"]) != 0 || got.Phase != game.PhaseSelect || got.CurrentPlayer != "p3" {
		t.Fatalf("state changed: current=%s phase=%s claims=%v", got.CurrentPlayer, got.Phase, got.ClaimedWords)
	}
}

func TestSubmit_RacingExpireCommitsOnce(t *testing.T) {
	for _, tc := range []struct {
		name   string
		user   string
		action game.Action
		setup  func(t *testing.T, e *env)
	}{
		{
			name:   "fill",
			user:   "p1",
			action: game.Fill{Row: 4, Col: 4, Character: "Q"},
			setup:  func(*testing.T, *env) {},
		},
		{
			name:   "claim",
			user:   "p3",
			action: catClaim(),
			setup: func(t *testing.T, e *env) {
				e.fill(t, "p1", 0, 0, "C")
				e.fill(t, "p2", 0, 1, "A")
				e.fill(t, "p3", 0, 2, "T")
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, words.NewList([]string{"cat"}))
			ctx := context.Background()
			tc.setup(t, e)
			before, err := e.svc.Get(ctx, e.sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			e.clock.Add(game.DefaultTurnDuration)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				expired  int
				submitOK bool
				errs     []error
			)
			start := make(chan struct{})
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := e.svc.Expire(ctx, e.sess.ID)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
					}
					if ok {
						expired++
					}
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := e.svc.Submit(ctx, e.sess.ID, tc.user, tc.action)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					submitOK = true
				case !errors.Is(err, game.ErrNotYourTurn):
					errs = append(errs, err)
				}
			}()
			close(start)
			wg.Wait()

			if len(errs) > 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if expired > 1 {
				t.Fatalf("expire committed %d times", expired)
			}
			commits := expired
			if submitOK {
				commits++
			}
			if commits != 1 {
				t.Fatalf("commits = %d (expired=%d submit=%v), want exactly one", commits, expired, submitOK)
			}
			after, err := e.svc.Get(ctx, e.sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if after.Turn != before.Turn+commits {
				t.Fatalf("turn = %d, want %d", after.Turn, before.Turn+commits)
			}
			if after.CurrentPlayer == tc.user || after.Phase != game.PhaseEdit {
				t.Fatalf("current=%s phase=%s after race", after.CurrentPlayer, after.Phase)
			}
		})
	}
}
