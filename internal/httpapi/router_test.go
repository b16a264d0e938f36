package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/suPer8Hu/kawan-ai/internal/ai"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/auth"
	"github.com/suPer8Hu/kawan-ai/internal/chat"
	"github.com/suPer8Hu/kawan-ai/internal/config"
	"github.com/suPer8Hu/kawan-ai/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	session chat.Session
}

func newTestServer(t *testing.T, upstream http.Handler, apiKey string) *testServer {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.User{}, &models.Character{}, &chat.Session{}, &chat.Message{}, &analytics.CharacterStat{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	baseURL := "http://127.0.0.1:1/v1"
	if upstream != nil {
		srv := httptest.NewServer(upstream)
		t.Cleanup(srv.Close)
		baseURL = srv.URL + "/v1"
	}

	cfg := config.Config{
		AppEnv:                "test",
		JWTSecret:             testSecret,
		CORSOrigins:           []string{"*"},
		ChatContextWindowSize: 8,
	}
	provider := ai.NewOpenRouterProvider(ai.OpenRouterOptions{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   "test/model",
		Timeout: 5 * time.Second,
	})
	svc := chat.NewService(chat.NewRepo(db), provider, chat.Options{Location: time.UTC})

	user := models.User{Email: "a@example.com", Username: "a", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	char := models.Character{UserID: user.ID, Name: "Sari"}
	if err := db.Create(&char).Error; err != nil {
		t.Fatalf("create character: %v", err)
	}
	sess := chat.Session{UserID: user.ID, CharacterID: char.ID, CurrentMood: "happy", MoodIntensity: 5}
	if err := db.Create(&sess).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}

	return &testServer{
		router:  NewRouter(db, cfg, zap.NewNop(), svc),
		db:      db,
		session: sess,
	}
}

func token(t *testing.T, userID uint64) string {
	t.Helper()
	tok, err := auth.SignJWT(userID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, userID uint64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", w.Body.String(), err)
	}
	return env
}

func sseEvents(t *testing.T, body string) []chat.Event {
	t.Helper()
	var out []chat.Event
	for _, frame := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		var ev chat.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, ev)
	}
	return out
}

// splitUpstream streams a reply whose frames are cut mid-line and mid-rune.
func splitUpstream(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected upstream path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)

		full := "data: {\"choices\":[{\"delta\":{\"content\":\"Halo\"}}]}\n\n" +
			": keep-alive\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\", apa kabar? 😊\"}}]}\n\n" +
			"data: not-json\n\n" +
			"data: [DONE]\n\n"
		raw := []byte(full)
		emoji := bytes.Index(raw, []byte("😊"))
		cuts := []int{20, emoji + 2, len(raw)}
		prev := 0
		for _, c := range cuts {
			_, _ = w.Write(raw[prev:c])
			fl.Flush()
			prev = c
		}
	})
}

func TestStreamChat_SSERoundTrip(t *testing.T) {
	s := newTestServer(t, splitUpstream(t), "k")

	w := s.do(t, http.MethodPost, "/chat/stream", s.session.UserID, gin.H{
		"sessionId": s.session.ID,
		"content":   "halo sari",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := sseEvents(t, w.Body.String())
	var text strings.Builder
	var done, failed int
	for _, ev := range events {
		switch ev.Type {
		case chat.EventDelta:
			text.WriteString(ev.Content)
			if ev.Accumulated != text.String() {
				t.Fatalf("accumulated %q does not match deltas %q", ev.Accumulated, text.String())
			}
		case chat.EventDone:
			done++
			if ev.AIMessage == nil || ev.AIMessage.Content != "Halo, apa kabar? 😊" {
				t.Fatalf("unexpected ai message in done: %+v", ev.AIMessage)
			}
			if ev.UserMessage == nil || ev.UserMessage.Content != "halo sari" {
				t.Fatalf("unexpected user message in done: %+v", ev.UserMessage)
			}
		case chat.EventError:
			failed++
		}
	}
	if text.String() != "Halo, apa kabar? 😊" {
		t.Fatalf("deltas do not reassemble the reply: %q", text.String())
	}
	if done != 1 || failed != 0 {
		t.Fatalf("expected exactly one done and no errors, got done=%d error=%d", done, failed)
	}
	if events[len(events)-1].Type != chat.EventDone {
		t.Fatalf("done must be the last event")
	}

	var count int64
	s.db.Model(&chat.Message{}).Where("session_id = ?", s.session.ID).Count(&count)
	if count != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", count)
	}
}

func TestStreamChat_UpstreamErrorIsInBand(t *testing.T) {
	s := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}), "k")

	w := s.do(t, http.MethodPost, "/chat/stream", s.session.UserID, gin.H{
		"sessionId": s.session.ID,
		"content":   "halo",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("stream already started, expected 200, got %d", w.Code)
	}
	events := sseEvents(t, w.Body.String())
	if len(events) != 1 || events[0].Type != chat.EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if events[0].AIMessage == nil || events[0].AIMessage.Content != chat.ErrorReplyFallback {
		t.Fatalf("error event must carry the fallback reply: %+v", events[0])
	}
}

func TestStreamChat_PreStreamErrors(t *testing.T) {
	s := newTestServer(t, splitUpstream(t), "k")

	cases := []struct {
		name   string
		userID uint64
		body   any
		status int
		code   int
	}{
		{"missing session", s.session.UserID, gin.H{"sessionId": 999, "content": "x"}, http.StatusNotFound, 40400},
		{"foreign session", s.session.UserID + 1, gin.H{"sessionId": s.session.ID, "content": "x"}, http.StatusForbidden, 40300},
		{"no session id", s.session.UserID, gin.H{"content": "x"}, http.StatusBadRequest, 10002},
		{"empty content", s.session.UserID, gin.H{"sessionId": s.session.ID, "content": " "}, http.StatusBadRequest, 10002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/chat/stream", tc.userID, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if env := decodeEnvelope(t, w); env.Code != tc.code {
				t.Fatalf("expected code %d, got %d", tc.code, env.Code)
			}
		})
	}

	var count int64
	s.db.Model(&chat.Message{}).Count(&count)
	if count != 0 {
		t.Fatalf("rejected requests must not persist messages, got %d", count)
	}
}

func TestStreamChat_MissingKeyIsServerError(t *testing.T) {
	s := newTestServer(t, nil, "")

	w := s.do(t, http.MethodPost, "/chat/stream", s.session.UserID, gin.H{
		"sessionId": s.session.ID,
		"content":   "halo",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	if env := decodeEnvelope(t, w); env.Code != 50010 {
		t.Fatalf("expected config error code, got %d", env.Code)
	}
}

func TestStreamChat_RequiresAuth(t *testing.T) {
	s := newTestServer(t, nil, "k")
	w := s.do(t, http.MethodPost, "/chat/stream", 0, gin.H{"sessionId": s.session.ID, "content": "x"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestStreamChat_Preflight(t *testing.T) {
	s := newTestServer(t, nil, "k")

	req := httptest.NewRequest(http.MethodOptions, "/chat/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,authorization")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Fatalf("POST should be allowed, got %q", got)
	}
}

func TestUsers_RegisterLoginMe(t *testing.T) {
	s := newTestServer(t, nil, "k")

	w := s.do(t, http.MethodPost, "/users", 0, gin.H{"email": "Budi@Example.com", "password": "rahasia123"})
	if w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/users", 0, gin.H{"email": "budi@example.com", "password": "rahasia123"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate email should conflict, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/login", 0, gin.H{"email": "budi@example.com", "password": "salah"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password should be 401, got %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/login", 0, gin.H{"email": "budi@example.com", "password": "rahasia123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	var login struct {
		ID    uint64 `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &login); err != nil || login.Token == "" {
		t.Fatalf("login response: %v %s", err, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	me := httptest.NewRecorder()
	s.router.ServeHTTP(me, req)
	if me.Code != http.StatusOK || !strings.Contains(me.Body.String(), "budi@example.com") {
		t.Fatalf("me: %d %s", me.Code, me.Body.String())
	}
}

func TestCharactersAndSessions(t *testing.T) {
	s := newTestServer(t, nil, "k")
	uid := s.session.UserID

	w := s.do(t, http.MethodPost, "/characters", uid, gin.H{"name": "Dewi", "complianceMode": "strict"})
	if w.Code != http.StatusOK {
		t.Fatalf("create character: %d %s", w.Code, w.Body.String())
	}
	var char models.Character
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &char); err != nil {
		t.Fatalf("decode character: %v", err)
	}
	if char.ComplianceMode != models.ComplianceStrict {
		t.Fatalf("unexpected compliance mode %q", char.ComplianceMode)
	}

	if w := s.do(t, http.MethodGet, fmt.Sprintf("/characters/%d", char.ID), uid+1, nil); w.Code != http.StatusNotFound {
		t.Fatalf("private character should be hidden from others, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/characters/%d/stats", char.ID), uid, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"turns":0`) {
		t.Fatalf("stats: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/chat/sessions", uid, gin.H{"characterId": char.ID})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"created":true`) {
		t.Fatalf("create session: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, "/chat/sessions", uid, gin.H{"characterId": char.ID})
	if !strings.Contains(w.Body.String(), `"created":false`) {
		t.Fatalf("second call should reuse the session: %s", w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/chat/sessions", uid, nil)
	var list struct {
		Sessions []chat.Session `json:"sessions"`
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &list); err != nil || len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d (%v)", len(list.Sessions), err)
	}

	w = s.do(t, http.MethodGet, fmt.Sprintf("/chat/sessions/%d/messages", s.session.ID), uid+1, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("history of a foreign session should be 403, got %d", w.Code)
	}

	w = s.do(t, http.MethodDelete, fmt.Sprintf("/chat/sessions/%d", s.session.ID), uid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete session: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, fmt.Sprintf("/chat/sessions/%d/messages", s.session.ID), uid, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted session should be 404, got %d", w.Code)
	}
}

func TestNoRoute(t *testing.T) {
	s := newTestServer(t, nil, "k")
	w := s.do(t, http.MethodGet, "/nope", 0, nil)
	if w.Code != http.StatusNotFound || decodeEnvelope(t, w).Code != 40400 {
		t.Fatalf("unexpected not-found response: %d %s", w.Code, w.Body.String())
	}
}
