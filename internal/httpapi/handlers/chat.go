package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/kawan-ai/internal/chat"
	"github.com/suPer8Hu/kawan-ai/internal/common"
)

const sseKeepAlive = 15 * time.Second

type createSessionReq struct {
	CharacterID uint64 `json:"characterId"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.CharacterID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "characterId required")
		return
	}

	sess, created, err := h.ChatSvc.StartSession(c.Request.Context(), uid, req.CharacterID)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"session": sess, "created": created})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid)
	if err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func sessionIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("session_id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid session id")
		return 0, false
	}
	return id, true
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		h.failErr(c, err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) ResetChatSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.ResetSession(c.Request.Context(), uid, sessionID); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sessionID})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, sessionID); err != nil {
		h.failErr(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sessionID})
}

type streamReq struct {
	SessionID   uint64 `json:"sessionId"`
	Content     string `json:"content"`
	ImageURL    string `json:"imageUrl"`
	BrowserTime string `json:"browserTime"`
}

func (r streamReq) turn() chat.TurnRequest {
	return chat.TurnRequest{
		SessionID:   r.SessionID,
		Content:     r.Content,
		ImageURL:    r.ImageURL,
		BrowserTime: r.BrowserTime,
	}
}

// sseWriter frames events as `data: <json>\n\n`. Writes are serialised so the
// keep-alive ticker can share the connection.
type sseWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (s *sseWriter) event(ev chat.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

func (s *sseWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// StreamChatMessage runs one relay turn over server-sent events. Everything
// that can fail before the first byte is reported as a normal JSON error.
func (h *Handler) StreamChatMessage(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.SessionID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "sessionId required")
		return
	}

	ctx := c.Request.Context()
	turn, err := h.ChatSvc.BeginTurn(ctx, uid, req.turn())
	if err != nil {
		h.failErr(c, err)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	sse := &sseWriter{w: c.Writer}
	_ = sse.comment("open")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sse.comment("ping"); err != nil {
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	h.ChatSvc.StreamTurn(ctx, turn, sse.event)

	close(stop)
	wg.Wait()
}
