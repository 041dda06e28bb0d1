// apps/go-server/internal/store/memory.go
//
// In-memory implementation of Documents.
// This is the ephemeral store used for live sessions and matchmaking queues.
//
// Characteristics:
//   - Documents are stored as JSON bytes so readers never share memory with writers.
//   - Each path carries a version counter that survives deletion; Transact
//     commits only when the version it read is still current.
//   - The mutex is held for reads and commits only, never while a transaction
//     function runs.
//   - Watchers get a best-effort copy of every commit; a slow watcher drops updates.
//   - State is lost when the process restarts.

package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries = 64
	watchBuffer       = 16
)

type memory struct {
	mu         sync.Mutex
	docs       map[string][]byte
	versions   map[string]uint64
	watchers   map[string]map[chan []byte]struct{}
	maxRetries int
	log        zerolog.Logger
}

// NewMemory constructs an in-memory Documents store.
func NewMemory(logger zerolog.Logger) Documents {
	return &memory{
		docs:       make(map[string][]byte),
		versions:   make(map[string]uint64),
		watchers:   make(map[string]map[chan []byte]struct{}),
		maxRetries: defaultMaxRetries,
		log:        logger,
	}
}

func (m *memory) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(d), nil
}

func (m *memory) Transact(ctx context.Context, path string, fn TxFunc) ([]byte, Op, error) {
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, OpNoop, err
		}

		m.mu.Lock()
		cur, exists := m.docs[path]
		cur = clone(cur)
		version := m.versions[path]
		m.mu.Unlock()
		if !exists {
			cur = nil
		}

		next, op, err := fn(clone(cur))
		if err != nil {
			return nil, OpNoop, err
		}

		m.mu.Lock()
		if m.versions[path] != version {
			m.mu.Unlock()
			m.log.Debug().Str("path", path).Int("attempt", attempt).Msg("transaction conflict, retrying")
			continue
		}
		switch op {
		case OpPut:
			m.docs[path] = clone(next)
			m.versions[path] = version + 1
			m.notify(path, next)
			m.mu.Unlock()
			return clone(next), OpPut, nil
		case OpDelete:
			if exists {
				delete(m.docs, path)
				m.versions[path] = version + 1
				m.notify(path, nil)
			}
			m.mu.Unlock()
			return nil, OpDelete, nil
		default:
			m.mu.Unlock()
			return cur, OpNoop, nil
		}
	}
	return nil, OpNoop, ErrContention
}

func (m *memory) Watch(ctx context.Context, path string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan []byte, watchBuffer)

	m.mu.Lock()
	set, ok := m.watchers[path]
	if !ok {
		set = make(map[chan []byte]struct{})
		m.watchers[path] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[path], ch)
		if len(m.watchers[path]) == 0 {
			delete(m.watchers, path)
		}
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// notify fans a commit out to watchers of path. Caller holds m.mu.
func (m *memory) notify(path string, doc []byte) {
	for ch := range m.watchers[path] {
		select {
		case ch <- clone(doc):
		default:
			m.log.Warn().Str("path", path).Msg("watcher buffer full, dropping update")
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
