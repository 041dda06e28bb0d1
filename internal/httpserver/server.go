// apps/go-server/internal/httpserver/server.go
//
// HTTP server wiring for the word grid backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs, access log).
//   - Public endpoints: "/", "/health".
//   - Matchmaking (require auth): /queue/*.
//   - Live sessions (require auth): /sessions/{id}, actions, presence, quit, expire, watch.
//   - Finished games (require auth): /history, /history/{id}.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - The websocket route sits outside the request timeout; everything else is bounded.
//   - Every error leaves through writeError so status codes stay consistent.

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
	"github.com/robalobadob/wordgrid/apps/go-server/internal/match"
)

// requestTimeout bounds every handler except the websocket watch.
const requestTimeout = 10 * time.Second

// Matchmaker is the queue surface used by /queue routes.
type Matchmaker interface {
	Join(ctx context.Context, userID string, n int) (*game.Session, error)
	Leave(ctx context.Context, userID string, n int) error
	Waiting(ctx context.Context, n int) ([]match.Entry, error)
}

// Sessions is the live-session surface used by /sessions routes.
type Sessions interface {
	Get(ctx context.Context, id string) (*game.Session, error)
	Submit(ctx context.Context, sessionID, userID string, action game.Action) (*game.Session, error)
	SetPresence(ctx context.Context, sessionID, userID string, p game.Presence) (*game.Session, error)
	Quit(ctx context.Context, sessionID, userID string) (*game.Session, error)
	Expire(ctx context.Context, sessionID string) (bool, error)
	Watch(ctx context.Context, id string) (<-chan *game.Session, error)
}

// Records is the durable surface: users and finished games.
type Records interface {
	EnsureUser(ctx context.Context, userID string) error
	History(ctx context.Context, sessionID string) (*game.History, error)
	HistoryForUser(ctx context.Context, userID string, limit int) ([]game.History, error)
}

// Deps wires a Server.
type Deps struct {
	Matcher      Matchmaker
	Sessions     Sessions
	Records      Records
	JWTSecret    string
	ClientOrigin string
	Logger       zerolog.Logger
}

// Server bundles the router and its collaborators.
type Server struct {
	r        *chi.Mux
	matcher  Matchmaker
	sessions Sessions
	records  Records
	secret   []byte
	origin   string
	log      zerolog.Logger

	watchMu  sync.Mutex
	watchers map[watchKey]*watchRef
}

// New constructs a Server, installs middleware, and registers routes.
func New(d Deps) *Server {
	s := &Server{
		r:        chi.NewRouter(),
		matcher:  d.Matcher,
		sessions: d.Sessions,
		records:  d.Records,
		secret:   []byte(d.JWTSecret),
		origin:   d.ClientOrigin,
		log:      d.Logger.With().Str("component", "http").Logger(),
		watchers: make(map[watchKey]*watchRef),
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(s.accessLog)
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(jsonContentType) // default JSON responses
	s.r.Use(s.cors)          // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":   "wordgrid-go",
			"endpoints": []string{"/health", "/queue/*", "/sessions/{id}/*", "/history"},
		})
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	s.r.Group(func(r chi.Router) {
		r.Use(s.requireAuth())

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(requestTimeout)) // bound handler time
			s.mountQueue(r)
			s.mountHistory(r)
		})
		s.mountSessions(r)
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Router exposes the internal router (useful for tests and http.Server).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured origin. No origin, no headers.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.origin != "" {
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", s.origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog writes one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// ------------------------------- helpers -----------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 64<<10)).Decode(v)
}
