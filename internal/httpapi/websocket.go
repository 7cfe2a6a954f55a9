package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pamir-ai-pkgs/distiller-services/internal/statestore"
)

const (
	wsWriteTimeout = time.Second
	wsPongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The provisioning UI is same-origin by construction (served off the
	// AP's captive portal or the status page), so any origin is accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one subscriber: its own send lock enforces spec §5's "each
// WebSocket connection has its own send lock" rule.
type wsConn struct {
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func (c *wsConn) send(st statestore.SystemState) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(st)
}

// wsHub fans a state-store change out to every open connection, dropping any
// connection whose send blocks past wsWriteTimeout (spec §4.G backpressure
// rule).
type wsHub struct {
	slog *zap.SugaredLogger

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

func newWSHub(slog *zap.SugaredLogger) *wsHub {
	return &wsHub{slog: slog, conns: make(map[*wsConn]struct{})}
}

func (h *wsHub) add(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *wsHub) remove(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func (h *wsHub) broadcast(st statestore.SystemState) {
	h.mu.Lock()
	targets := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(st); err != nil {
			h.slog.Debugw("dropping websocket connection on backpressure/error", "error", err)
			h.remove(c)
			_ = c.conn.Close()
		}
	}
}

// handleWebSocket upgrades the connection, pushes a full snapshot
// immediately, and then keeps reading (discarding everything but ignoring
// "ping") until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.slog.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{conn: conn}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = conn.Close()
	}()

	if err := c.send(s.orch.Status()); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		// Client messages are otherwise ignored; "ping" needs no reply
		// per spec §4.G.
	}
}
