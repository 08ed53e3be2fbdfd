package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipflow/clipflow/internal/session"
)

const feedWriteTimeout = 10 * time.Second

// feedHub tracks open view feeds so shutdown can close them; hijacked
// connections are not closed by http.Server.Shutdown.
type feedHub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

func newFeedHub() *feedHub {
	return &feedHub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *feedHub) add(c *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *feedHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.Close()
}

func (h *feedHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.Close()
	}
}

// latestView holds the newest undelivered view. Slow readers skip
// intermediate states instead of blocking the session's notifications.
type latestView struct {
	mu     sync.Mutex
	view   session.ViewState
	signal chan struct{}
}

func newLatestView() *latestView {
	return &latestView{signal: make(chan struct{}, 1)}
}

func (l *latestView) put(v session.ViewState) {
	l.mu.Lock()
	l.view = v
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *latestView) take() session.ViewState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.view
}

// viewFeedHandler streams the session's view state: the current state on
// connect, then a snapshot after every change.
func viewFeedHandler(cfg ServerConfig, hub *feedHub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isAllowedOrigin(origin)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Debug("view feed upgrade failed", "error", err)
			return
		}
		if !hub.add(conn) {
			_ = conn.Close()
			return
		}
		defer hub.remove(conn)

		latest := newLatestView()
		unsubscribe := cfg.Session.Subscribe(latest.put)
		defer unsubscribe()
		latest.put(cfg.Session.View())

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-latest.signal:
				_ = conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
				if err := conn.WriteJSON(latest.take()); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}
