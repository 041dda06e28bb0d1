package words

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTP checks words against a REST dictionary that answers
// GET <base>/<word> with 200 for known words and 404 for unknown ones
// (the dictionaryapi.dev convention).
type HTTP struct {
	base   string
	client *http.Client
}

// NewHTTP returns a client for baseURL. A nil client gets a 5s default.
func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTP{base: strings.TrimRight(baseURL, "/"), client: client}
}

// IsValidWord performs one lookup. Anything other than a clean 200 or 404
// is reported as ErrLookupFailure.
func (h *HTTP) IsValidWord(ctx context.Context, word string) (bool, error) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/"+url.PathEscape(w), nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLookupFailure, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("%w: status %d", ErrLookupFailure, res.StatusCode)
	}
}
