// apps/go-server/internal/store/store.go
//
// Ephemeral document store contract.
// Documents are JSON blobs addressed by a path ("sessions/<id>", "queues/<n>").
// Every mutation goes through Transact, an optimistic compare-and-swap loop:
// the store hands the transaction function a private copy of the current
// document, and commits the result only if nobody else committed in between.
// On conflict the function is simply run again against the fresh document.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get for a missing document.
	ErrNotFound = errors.New("store: document not found")
	// ErrContention means a transaction lost the race too many times in a row.
	ErrContention = errors.New("store: too much contention")
)

// Op is the outcome a transaction function asks for.
type Op int

const (
	OpNoop   Op = iota // leave the document as it is
	OpPut              // write the returned document
	OpDelete           // remove the document
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "noop"
	}
}

// TxFunc receives the current document (nil when absent) and returns the
// next document and the operation to apply. It may be invoked several times
// per Transact call and must not have side effects outside its return values.
type TxFunc func(cur []byte) (next []byte, op Op, err error)

// Documents is the ephemeral store.
type Documents interface {
	// Get returns a copy of the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Transact atomically applies fn to the document at path. It returns the
	// document as committed (the unchanged current one for OpNoop, nil for
	// OpDelete) and the applied op. An error from fn aborts without changes.
	Transact(ctx context.Context, path string, fn TxFunc) ([]byte, Op, error)

	// Watch streams every committed version of path until ctx is done.
	// A nil value signals deletion.
	Watch(ctx context.Context, path string) (<-chan []byte, error)
}

// Load decodes the document at path into a new T.
func Load[T any](ctx context.Context, docs Documents, path string) (*T, error) {
	raw, err := docs.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &v, nil
}

// Update is the typed form of Transact. fn receives a decoded copy of the
// current document (nil when absent) and returns the next value and op.
func Update[T any](ctx context.Context, docs Documents, path string, fn func(cur *T) (*T, Op, error)) (*T, Op, error) {
	raw, op, err := docs.Transact(ctx, path, func(cur []byte) ([]byte, Op, error) {
		var in *T
		if cur != nil {
			in = new(T)
			if err := json.Unmarshal(cur, in); err != nil {
				return nil, OpNoop, fmt.Errorf("decode %s: %w", path, err)
			}
		}
		out, op, err := fn(in)
		if err != nil || op != OpPut {
			return nil, op, err
		}
		if out == nil {
			return nil, OpNoop, fmt.Errorf("put %s: nil document", path)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, OpNoop, fmt.Errorf("encode %s: %w", path, err)
		}
		return b, OpPut, nil
	})
	if err != nil || raw == nil {
		return nil, op, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, op, fmt.Errorf("decode %s: %w", path, err)
	}
	return &v, op, nil
}
