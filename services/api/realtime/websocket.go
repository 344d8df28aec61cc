package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridpulse/gridpulse/services/api/apperr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

// Handler upgrades HTTP requests to websocket connections served by a
// Service. The bearer token is taken from the Authorization header or, for
// browser clients, the "token" query parameter.
type Handler struct {
	svc      *Service
	upgrader websocket.Upgrader
}

// NewHandler returns a websocket endpoint. allowedOrigins of "*" (or empty)
// accepts any origin.
func NewHandler(svc *Service, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[strings.TrimRight(origin, "/")]
				return ok
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.svc.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := h.svc.NewConn()
	if err := h.svc.Authenticate(r.Context(), c, bearerToken(r)); err != nil {
		rejectUnauthenticated(ws, err)
		return
	}

	go h.writePump(ws, c)
	h.readPump(ws, c)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	return r.URL.Query().Get("token")
}

// rejectUnauthenticated tells the client why and closes with a policy
// violation.
func rejectUnauthenticated(ws *websocket.Conn, err error) {
	defer ws.Close()
	frame, _ := json.Marshal(ServerMessage{Type: TypeError, Message: "authentication failed: " + err.Error(), Code: apperr.KindAccessDenied})
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, frame)
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
		time.Now().Add(writeWait))
}

// readPump feeds inbound frames to the service until the peer goes away.
func (h *Handler) readPump(ws *websocket.Conn, c *Conn) {
	defer h.svc.Disconnect(c, "client_closed")

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		h.svc.Dispatch(c, data)
	}
}

// writePump is the only writer on ws. It drains queued frames, pings the
// peer and closes the socket once the connection is done.
func (h *Handler) writePump(ws *websocket.Conn, c *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()
	for {
		select {
		case frame := <-c.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.svc.Disconnect(c, "write_failed")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.svc.Disconnect(c, "ping_failed")
				return
			}
		case <-c.Done():
			h.flush(ws, c)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes frames that were queued before the connection closed.
func (h *Handler) flush(ws *websocket.Conn, c *Conn) {
	for {
		select {
		case frame := <-c.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
