// apps/go-server/internal/words/words.go
//
// Dictionary gateway used to verify claimed words.
//
// Responsibilities:
//   - Define Checker, the single "is this a word" call the session engine needs.
//   - List: an in-process word set loaded from a file or the embedded default.
//   - HTTP: a client for a remote dictionary REST endpoint (see http.go).
//
// Word lists:
//   - One word per line, case-insensitive, blank lines and "#" comments ignored.
//   - Only alphabetic a–z entries are kept.
//
// Environment variables (read by internal/config, passed in here):
//   WORDS_FILE=/path/to/words.txt
//
// Lookups are case-insensitive. A lookup that could not be answered returns
// an error wrapping ErrLookupFailure; callers must treat it as "not a word".

package words

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/robalobadob/wordgrid/apps/go-server/assets"
)

// ErrLookupFailure means the dictionary could not answer (network, timeout, bad response).
var ErrLookupFailure = errors.New("words: dictionary lookup failed")

// Checker answers whether word is valid.
type Checker interface {
	IsValidWord(ctx context.Context, word string) (bool, error)
}

// List is a fixed in-memory word set.
type List struct {
	set map[string]struct{}
}

// LoadList reads path, or the embedded default list when path is empty.
func LoadList(path string) (*List, error) {
	var (
		list []string
		err  error
	)
	if path == "" {
		list, err = assets.WordList()
	} else {
		list, err = readWordFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("words: load list: %w", err)
	}
	l := NewList(list)
	if l.Len() == 0 {
		return nil, errors.New("words: word list is empty")
	}
	return l, nil
}

// NewList builds a List from words, dropping anything non-alphabetic.
func NewList(words []string) *List {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w != "" && isAlpha(w) {
			set[w] = struct{}{}
		}
	}
	return &List{set: set}
}

// IsValidWord reports whether word is in the list. It never fails.
func (l *List) IsValidWord(ctx context.Context, word string) (bool, error) {
	_, ok := l.set[strings.ToLower(strings.TrimSpace(word))]
	return ok, nil
}

// Len returns the number of words loaded.
func (l *List) Len() int { return len(l.set) }

// readWordFile loads one word per line from a file.
func readWordFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		out = append(out, w)
	}
	return out, sc.Err()
}

// isAlpha reports whether s is all lowercase ASCII letters.
func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
