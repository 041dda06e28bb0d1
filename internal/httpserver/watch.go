// apps/go-server/internal/httpserver/watch.go
//
// GET /sessions/{id}/watch upgrades to a websocket that streams every
// committed version of the session. The connection doubles as the presence
// heartbeat: the caller's first open socket marks them online, closing the
// last one marks them offline. Extra tabs and lingering sockets from a
// reconnect do not flip presence.
//
// Server → client messages (JSON, one per frame):
//   {"type":"session","session":{...}}
//   {"type":"ended"}
// Client messages are read only to keep the connection alive.

package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/robalobadob/wordgrid/apps/go-server/internal/game"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096

	// presenceTimeout bounds the offline update sent after disconnect.
	presenceTimeout = 5 * time.Second
)

type watchKey struct{ session, user string }

// watchRef counts one user's open sockets on one session.
type watchRef struct {
	mu   sync.Mutex // orders the online/offline writes for this key
	open int        // guarded by mu
	refs int        // guarded by Server.watchMu
}

func (s *Server) acquireWatch(k watchKey) *watchRef {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	r := s.watchers[k]
	if r == nil {
		r = &watchRef{}
		s.watchers[k] = r
	}
	r.refs++
	return r
}

func (s *Server) releaseWatch(k watchKey, r *watchRef) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	r.refs--
	if r.refs == 0 {
		delete(s.watchers, k)
	}
}

// openWatches reports how many sockets userID holds on sessionID.
func (s *Server) openWatches(sessionID, userID string) int {
	s.watchMu.Lock()
	r := s.watchers[watchKey{sessionID, userID}]
	s.watchMu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

type watchMsg struct {
	Type    string        `json:"type"`
	Session *game.Session `json:"session,omitempty"`
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return s.origin == "" || o == "" || o == s.origin
		},
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	uid := userID(r)

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := sess.Player(uid); !ok {
		writeError(w, game.ErrPlayerNotFound)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("session", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before going online so the presence commit is delivered too.
	updates, err := s.sessions.Watch(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("session", id).Msg("watch")
		return
	}
	key := watchKey{id, uid}
	ref := s.acquireWatch(key)
	defer s.releaseWatch(key, ref)

	ref.mu.Lock()
	ref.open++
	if ref.open == 1 {
		if cur, err := s.sessions.SetPresence(ctx, id, uid, game.PresenceOnline); err == nil {
			sess = cur
		} else {
			s.log.Debug().Err(err).Str("session", id).Str("user", uid).Msg("online presence")
		}
	}
	sockets := ref.open
	ref.mu.Unlock()
	s.log.Info().Str("session", id).Str("user", uid).Int("sockets", sockets).Msg("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		s.writePump(ctx, conn, sess, updates)
	}()

	readPump(conn)
	cancel()
	<-done

	ref.mu.Lock()
	ref.open--
	if ref.open == 0 {
		pctx, pcancel := context.WithTimeout(context.Background(), presenceTimeout)
		if _, err := s.sessions.SetPresence(pctx, id, uid, game.PresenceOffline); err != nil {
			s.log.Debug().Err(err).Str("session", id).Str("user", uid).Msg("offline presence")
		}
		pcancel()
	}
	sockets = ref.open
	ref.mu.Unlock()
	s.log.Info().Str("session", id).Str("user", uid).Int("sockets", sockets).Msg("websocket disconnected")
}

// readPump drains client frames until the connection fails.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump sends the first snapshot, then every update, plus keepalive pings.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, first *game.Session, updates <-chan *game.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	send := func(m watchMsg) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(m) == nil
	}
	if !send(watchMsg{Type: "session", Session: first}) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			if next == nil || next.Status == game.StatusEnded {
				send(watchMsg{Type: "ended"})
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			if !send(watchMsg{Type: "session", Session: next}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
