package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
)

type counter struct {
	N int `json:"n"`
}

func TestMemory_GetMissing(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	if _, err := docs.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemory_ConcurrentUpdatesAllCommit(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	ctx := context.Background()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := Update(ctx, docs, "counter", func(cur *counter) (*counter, Op, error) {
				if cur == nil {
					cur = &counter{}
				}
				cur.N++
				return cur, OpPut, nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := Load[counter](ctx, docs, "counter")
	if err != nil {
		t.Fatal(err)
	}
	if got.N != workers {
		t.Errorf("n = %d, want %d", got.N, workers)
	}
}

func TestMemory_ConflictReinvokesFunction(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	ctx := context.Background()
	if _, _, err := Update(ctx, docs, "c", func(*counter) (*counter, Op, error) { return &counter{N: 1}, OpPut, nil }); err != nil {
		t.Fatal(err)
	}

	calls := 0
	_, _, err := docs.Transact(ctx, "c", func(cur []byte) ([]byte, Op, error) {
		calls++
		if calls == 1 {
			// A competing writer commits while this attempt is in flight.
			if _, _, err := Update(ctx, docs, "c", func(c *counter) (*counter, Op, error) {
				c.N = 10
				return c, OpPut, nil
			}); err != nil {
				t.Fatal(err)
			}
		}
		return []byte(`{"n":` + strconv.Itoa(calls) + `}`), OpPut, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fn called %d times, want 2", calls)
	}
	got, _ := Load[counter](ctx, docs, "c")
	if got.N != 2 {
		t.Errorf("n = %d, want 2 (second attempt)", got.N)
	}
}

func TestMemory_NoopAndDelete(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	ctx := context.Background()

	v, op, err := Update(ctx, docs, "x", func(cur *counter) (*counter, Op, error) {
		if cur != nil {
			t.Error("expected absent document")
		}
		return nil, OpNoop, nil
	})
	if err != nil || op != OpNoop || v != nil {
		t.Fatalf("noop on absent: v=%v op=%v err=%v", v, op, err)
	}

	Update(ctx, docs, "x", func(*counter) (*counter, Op, error) { return &counter{N: 3}, OpPut, nil })
	v, op, err = Update(ctx, docs, "x", func(cur *counter) (*counter, Op, error) { return nil, OpNoop, nil })
	if err != nil || op != OpNoop || v == nil || v.N != 3 {
		t.Fatalf("noop should return current doc: v=%v op=%v err=%v", v, op, err)
	}

	if _, op, err := docs.Transact(ctx, "x", func([]byte) ([]byte, Op, error) { return nil, OpDelete, nil }); err != nil || op != OpDelete {
		t.Fatalf("delete: op=%v err=%v", op, err)
	}
	if _, err := docs.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemory_FnErrorAborts(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	ctx := context.Background()
	boom := errors.New("boom")
	_, _, err := Update(ctx, docs, "x", func(*counter) (*counter, Op, error) { return &counter{N: 1}, OpPut, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := docs.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Error("aborted transaction must not write")
	}
}

func TestMemory_TransactRespectsContext(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := docs.Transact(ctx, "x", func([]byte) ([]byte, Op, error) { return []byte(`{}`), OpPut, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSessions_WatchSeesCommitsAndDeletion(t *testing.T) {
	docs := NewMemory(zerolog.Nop())
	sessions := NewSessions(docs)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := game.NewSession("w-1", []game.Player{{ID: "a"}, {ID: "b"}}, time.Now())
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := sessions.Create(ctx, sess); err == nil {
		t.Error("duplicate create should fail")
	}

	updates, err := sessions.Watch(ctx, "w-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := sessions.Update(ctx, "w-1", func(cur *game.Session) (*game.Session, Op, error) {
		cur.Advance(time.Now())
		return cur, OpPut, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := sessions.Delete(ctx, "w-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-updates:
		if got == nil || got.CurrentPlayer != "b" {
			t.Fatalf("first update = %+v, want current b", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
	select {
	case got := <-updates:
		if got != nil {
			t.Fatalf("expected deletion marker, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no deletion received")
	}

	if _, err := sessions.Get(ctx, "w-1"); !errors.Is(err, game.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
