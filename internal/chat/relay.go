package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/kawan-ai/internal/ai"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/apperr"
	"github.com/suPer8Hu/kawan-ai/internal/models"
	"github.com/suPer8Hu/kawan-ai/internal/mood"
	"github.com/suPer8Hu/kawan-ai/internal/prompt"
	"github.com/suPer8Hu/kawan-ai/internal/vision"
	"go.uber.org/zap"
)

const (
	maxContentRunes = 4000
	// browser clocks further off than this are ignored
	maxBrowserSkew = 24 * time.Hour
)

const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Event is one frame of a turn's outgoing stream.
type Event struct {
	Type          string   `json:"type"`
	Content       string   `json:"content,omitempty"`
	Accumulated   string   `json:"accumulated,omitempty"`
	Error         string   `json:"error,omitempty"`
	UserMessage   *Message `json:"userMessage,omitempty"`
	AIMessage     *Message `json:"aiMessage,omitempty"`
	Mood          string   `json:"mood,omitempty"`
	MoodIntensity int      `json:"moodIntensity,omitempty"`
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthorizing
	PhaseImageDescribing
	PhaseUserPersisted
	PhaseContextLoaded
	PhaseMoodComputed
	PhaseStreaming
	PhaseCompleted
	PhaseFailed
)

var phaseNames = [...]string{
	"idle", "authorizing", "image_describing", "user_persisted",
	"context_loaded", "mood_computed", "streaming", "completed", "failed",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

type TurnRequest struct {
	SessionID uint64
	Content   string
	ImageURL  string
	// BrowserTime is an optional RFC 3339 timestamp from the client.
	BrowserTime string
}

// Turn is a relay invocation that has passed every pre-stream check. Its user
// message is already durable; StreamTurn must be called exactly once.
type Turn struct {
	Session     *Session
	UserMessage *Message

	phase    Phase
	started  time.Time
	local    time.Time
	hasImage bool
	unlock   func()
}

func (t *Turn) Phase() Phase { return t.phase }

// BeginTurn authorizes the caller, describes the image if any and persists the
// user message. Errors returned here happen before any byte is streamed.
func (s *Service) BeginTurn(ctx context.Context, userID uint64, req TurnRequest) (*Turn, error) {
	content := strings.TrimSpace(req.Content)
	imageURL := strings.TrimSpace(req.ImageURL)
	if content == "" && imageURL == "" {
		return nil, apperr.Validation("message content or image is required")
	}
	if utf8.RuneCountInString(req.Content) > maxContentRunes {
		return nil, apperr.Validation("message is too long")
	}

	t := &Turn{phase: PhaseAuthorizing, started: s.now()}
	unlock, err := s.lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	t.unlock = unlock

	sess, err := s.authorize(ctx, userID, req.SessionID)
	if err != nil {
		unlock()
		return nil, err
	}
	t.Session = sess

	if err := s.provider.Validate(); err != nil {
		unlock()
		s.log.Error("chat provider misconfigured", zap.Error(err))
		return nil, apperr.New(apperr.TypeConfig, "chat provider is not configured", err)
	}

	var desc string
	if imageURL != "" {
		t.phase = PhaseImageDescribing
		t.hasImage = true
		var derr error
		desc, derr = vision.DescribeOrPlaceholder(ctx, s.describer, imageURL)
		if derr != nil {
			s.log.Warn("image description failed, using placeholder",
				zap.Uint64("session_id", sess.ID),
				zap.Error(derr),
			)
		}
	}

	msg := &Message{
		SessionID:        sess.ID,
		Role:             RoleUser,
		Content:          req.Content,
		ImageURL:         strPtr(imageURL),
		ImageDescription: strPtr(desc),
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		unlock()
		return nil, apperr.Internal("save user message", err)
	}
	t.UserMessage = msg
	t.phase = PhaseUserPersisted
	t.local = s.localTime(req.BrowserTime, t.started)
	return t, nil
}

// localTime picks the wall clock shown to the model.
func (s *Service) localTime(browserTime string, now time.Time) time.Time {
	if browserTime != "" {
		if bt, err := time.Parse(time.RFC3339, browserTime); err == nil {
			skew := bt.Sub(now)
			if skew < 0 {
				skew = -skew
			}
			if skew <= maxBrowserSkew {
				if _, off := bt.Zone(); off == 0 {
					return bt.In(s.loc)
				}
				return bt
			}
		}
	}
	return now.In(s.loc)
}

// StreamTurn runs the remainder of a turn, calling emit for every event. It
// always persists an assistant message and always releases the session lock.
// A failing emit is treated as the client going away.
func (s *Service) StreamTurn(ctx context.Context, t *Turn, emit func(Event) error) {
	defer t.release()

	sess := t.Session
	log := s.log.With(zap.Uint64("session_id", sess.ID), zap.Uint64("user_message_id", t.UserMessage.ID))
	persistCtx := context.WithoutCancel(ctx)

	history, err := s.repo.ListRecentMessagesDesc(persistCtx, sess.ID, s.contextWindow)
	if err != nil {
		s.failTurn(persistCtx, t, emit, log, err)
		return
	}
	t.phase = PhaseContextLoaded

	now := s.now()
	trig := s.triggers(sess, t, now)
	prev := mood.Normalize(sess.CurrentMood)
	next := s.engine.ComputeMood(trig, prev)
	intensity := s.engine.ComputeIntensity(trig, next)
	t.phase = PhaseMoodComputed

	msgs := s.buildMessages(sess, history, prev, next, intensity, t.local)

	var acc strings.Builder
	var streamErr error
	clientGone := ctx.Err() != nil
	if clientGone {
		log.Info("client went away before streaming", zap.Error(ctx.Err()))
	} else {
		streamErr = s.stream(ctx, t, msgs, &acc, emit, log, &clientGone)
	}

	if streamErr != nil && !clientGone && ctx.Err() == nil {
		s.failTurn(persistCtx, t, emit, log, streamErr)
		return
	}
	if streamErr != nil {
		log.Info("stream stopped by client", zap.Error(streamErr))
	}

	reply := acc.String()
	if strings.TrimSpace(reply) == "" {
		reply = EmptyReplyFallback
	}
	aiMsg := &Message{SessionID: sess.ID, Role: RoleAssistant, Content: reply}
	if err := s.repo.InsertMessage(persistCtx, aiMsg); err != nil {
		s.failTurn(persistCtx, t, emit, log, err)
		return
	}

	doneAt := s.now()
	st := SessionState{
		Mood:               string(next),
		MoodIntensity:      intensity,
		LastMoodChange:     sess.LastMoodChange,
		ConversationLength: sess.ConversationLength + 2,
		LastUserMessage:    doneAt,
		UserResponseTime:   trig.UserResponseTimeMinutes,
		UpdatedAt:          doneAt,
	}
	if next != prev {
		st.LastMoodChange = &doneAt
	}
	if err := s.repo.UpdateSessionState(persistCtx, sess.ID, st); err != nil {
		// both rows exist; only the mood bookkeeping is stale
		log.Error("update session state", zap.Error(err))
	}

	t.phase = PhaseCompleted
	if !clientGone {
		_ = emit(Event{
			Type:          EventDone,
			UserMessage:   t.UserMessage,
			AIMessage:     aiMsg,
			Mood:          string(next),
			MoodIntensity: intensity,
		})
	}
	log.Info("turn completed",
		zap.String("mood", string(next)),
		zap.Int("intensity", intensity),
		zap.Int("reply_chars", utf8.RuneCountInString(reply)),
		zap.Duration("elapsed", doneAt.Sub(t.started)),
	)
	s.publish(analytics.TurnEvent{
		SessionID:     sess.ID,
		UserID:        sess.UserID,
		CharacterID:   sess.CharacterID,
		Mood:          string(next),
		MoodIntensity: intensity,
		MoodChanged:   next != prev,
		ReplyChars:    utf8.RuneCountInString(reply),
		HasImage:      t.hasImage,
		Outcome:       analytics.OutcomeCompleted,
		At:            doneAt,
	})
}

// stream relays upstream chunks to emit until the provider finishes. When emit
// fails the upstream is cancelled and the rest of the chunks are drained.
func (s *Service) stream(ctx context.Context, t *Turn, msgs []ai.Message, acc *strings.Builder, emit func(Event) error, log *zap.Logger, clientGone *bool) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.phase = PhaseStreaming
	chunks, errs := s.provider.StreamChat(streamCtx, msgs)

	for chunk := range chunks {
		if *clientGone || chunk == "" {
			continue
		}
		acc.WriteString(chunk)
		if err := emit(Event{Type: EventDelta, Content: chunk, Accumulated: acc.String()}); err != nil {
			log.Info("client went away mid-stream", zap.Error(err))
			*clientGone = true
			cancel()
		}
	}
	return <-errs
}

func (s *Service) failTurn(ctx context.Context, t *Turn, emit func(Event) error, log *zap.Logger, cause error) {
	t.phase = PhaseFailed
	log.Error("turn failed", zap.Error(cause))

	aiMsg := &Message{SessionID: t.Session.ID, Role: RoleAssistant, Content: ErrorReplyFallback}
	if err := s.repo.InsertMessage(ctx, aiMsg); err != nil {
		log.Error("save fallback assistant message", zap.Error(err))
		aiMsg = nil
	}
	_ = emit(Event{
		Type:        EventError,
		Error:       streamErrorMessage,
		UserMessage: t.UserMessage,
		AIMessage:   aiMsg,
	})
	s.publish(analytics.TurnEvent{
		SessionID:   t.Session.ID,
		UserID:      t.Session.UserID,
		CharacterID: t.Session.CharacterID,
		Mood:        t.Session.CurrentMood,
		HasImage:    t.hasImage,
		Outcome:     analytics.OutcomeFailed,
		At:          s.now(),
	})
}

func (t *Turn) release() {
	if t.unlock != nil {
		t.unlock()
		t.unlock = nil
	}
}

func (s *Service) triggers(sess *Session, t *Turn, now time.Time) mood.Triggers {
	gap := 0
	avg := 0.0
	if sess.LastUserMessage != nil {
		gap = minutesSince(*sess.LastUserMessage, now)
		avg = float64(sess.UserResponseTime+gap) / 2
	}
	messageCount := sess.ConversationLength + 1
	duration := now.Sub(sess.CreatedAt).Minutes()
	if duration < 0 {
		duration = 0
	}
	return mood.Triggers{
		UserResponseTimeMinutes:     gap,
		ConversationLength:          sess.ConversationLength,
		TimeSinceLastMessageMinutes: minutesSince(sess.UpdatedAt, now),
		UserEngagement:              mood.EngagementScore(messageCount, avg, duration),
		UserMessageContent:          t.UserMessage.Content,
		MessageCount:                messageCount,
		At:                          t.local,
	}
}

func minutesSince(then, now time.Time) int {
	if then.IsZero() {
		return 0
	}
	d := now.Sub(then)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}

func (s *Service) buildMessages(sess *Session, desc []Message, prev, next mood.Mood, intensity int, local time.Time) []ai.Message {
	c := models.Character{Name: "Teman"}
	if sess.Character != nil {
		c = *sess.Character
	}

	out := make([]ai.Message, 0, len(desc)+2)
	out = append(out, ai.Message{Role: RoleSystem, Content: prompt.BuildSystemPrompt(c, next, intensity, local)})
	if next != prev {
		if line, ok := mood.TransitionMessage(prev, next); ok {
			out = append(out, ai.Message{Role: RoleAssistant, Content: line})
		}
	}
	return append(out, contextMessages(desc)...)
}

// contextMessages turns a newest-first window into chronological upstream
// messages. Only the newest user message that has an image description gets
// it inlined.
func contextMessages(desc []Message) []ai.Message {
	inlineID := uint64(0)
	for _, m := range desc {
		if m.Role == RoleUser && trimmed(m.ImageDescription) != "" {
			inlineID = m.ID
			break
		}
	}

	out := make([]ai.Message, 0, len(desc))
	for i := len(desc) - 1; i >= 0; i-- {
		m := desc[i]
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		content := m.Content
		if m.ID == inlineID {
			note := "[Pengguna mengirim gambar: " + trimmed(m.ImageDescription) + "]"
			if strings.TrimSpace(content) == "" {
				content = note
			} else {
				content += "\n\n" + note
			}
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, ai.Message{Role: m.Role, Content: content})
	}
	return out
}
