package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/kawan-ai/internal/apperr"
	"github.com/suPer8Hu/kawan-ai/internal/chat"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 * 1024
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range h.Cfg.CORSOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// wsConn serialises writers: the relay and the ping ticker.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// wsError is sent for turns rejected before streaming.
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ChatWebSocket carries the same relay as StreamChatMessage. Each inbound text
// frame is one turn; turns on a connection run one after another.
func (h *Handler) ChatWebSocket(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn}
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	ctx := c.Request.Context()
	log := h.Log.With(zap.Uint64("user_id", uid))
	log.Info("websocket connected")

	for {
		var req streamReq
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read", zap.Error(err))
			}
			return
		}
		// a long turn must not trip the read deadline of the next frame
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if req.SessionID == 0 {
			if err := ws.writeJSON(wsError{Type: chat.EventError, Error: "sessionId required", Code: string(apperr.TypeValidation)}); err != nil {
				return
			}
			continue
		}

		turn, err := h.ChatSvc.BeginTurn(ctx, uid, req.turn())
		if err != nil {
			if apperr.TypeOf(err) == apperr.TypeInternal || apperr.TypeOf(err) == apperr.TypeConfig {
				log.Error("websocket turn rejected", zap.Error(err))
			}
			if err := ws.writeJSON(wsError{Type: chat.EventError, Error: apperr.MessageOf(err), Code: string(apperr.TypeOf(err))}); err != nil {
				return
			}
			continue
		}

		h.ChatSvc.StreamTurn(ctx, turn, func(ev chat.Event) error {
			return ws.writeJSON(ev)
		})
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}
