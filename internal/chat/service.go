package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/kawan-ai/internal/ai"
	"github.com/suPer8Hu/kawan-ai/internal/analytics"
	"github.com/suPer8Hu/kawan-ai/internal/apperr"
	"github.com/suPer8Hu/kawan-ai/internal/common"
	"github.com/suPer8Hu/kawan-ai/internal/models"
	"github.com/suPer8Hu/kawan-ai/internal/mood"
	"github.com/suPer8Hu/kawan-ai/internal/vision"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// EmptyReplyFallback is stored when the upstream finished without any text.
	EmptyReplyFallback = "Hmm... aku lagi bingung mau jawab apa. Coba ceritain lagi, ya?"
	// ErrorReplyFallback is stored when the upstream call failed.
	ErrorReplyFallback = "Maaf, sepertinya ada gangguan. Coba kirim pesanmu lagi, ya."
	// streamErrorMessage is the in-band error text sent to the client.
	streamErrorMessage = "Gagal mendapatkan balasan. Silakan coba lagi."

	defaultContextWindow = 8
)

// TurnPublisher receives one event per finished turn. Publishing is best effort.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev analytics.TurnEvent) error
}

type Options struct {
	ContextWindowSize int
	Location          *time.Location
	// DebugBypassOwnership is ignored whenever Production is true.
	DebugBypassOwnership bool
	Production           bool

	Describer vision.Describer
	Engine    *mood.Engine
	Locker    Locker
	Publisher TurnPublisher
	Logger    *zap.Logger
	Now       func() time.Time
}

type Service struct {
	repo     *Repo
	provider ai.StreamProvider

	describer     vision.Describer
	engine        *mood.Engine
	locker        Locker
	publisher     TurnPublisher
	log           *zap.Logger
	contextWindow int
	loc           *time.Location
	now           func() time.Time
	bypassOwner   bool
}

func NewService(repo *Repo, provider ai.StreamProvider, o Options) *Service {
	if o.ContextWindowSize <= 0 || o.ContextWindowSize > 100 {
		o.ContextWindowSize = defaultContextWindow
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Engine == nil {
		o.Engine = mood.NewEngine()
	}
	if o.Locker == nil {
		o.Locker = NewLocalLocker()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Service{
		repo:          repo,
		provider:      provider,
		describer:     o.Describer,
		engine:        o.Engine,
		locker:        o.Locker,
		publisher:     o.Publisher,
		log:           o.Logger,
		contextWindow: o.ContextWindowSize,
		loc:           o.Location,
		now:           o.Now,
		bypassOwner:   o.DebugBypassOwnership && !o.Production,
	}
}

// authorize returns the session if userID may act on it.
func (s *Service) authorize(ctx context.Context, userID, sessionID uint64) (*Session, error) {
	sess, err := s.repo.GetSessionWithCharacter(ctx, sessionID)
	if err != nil {
		if IsNotFound(err) {
			return nil, apperr.NotFound("session not found")
		}
		return nil, apperr.Internal("load session", err)
	}
	if sess.UserID != userID && !s.bypassOwner {
		return nil, apperr.Forbidden("session belongs to another user")
	}
	return sess, nil
}

// StartSession finds the caller's latest session with a character, or creates one.
func (s *Service) StartSession(ctx context.Context, userID, characterID uint64) (*Session, bool, error) {
	var c models.Character
	if err := s.repo.db.WithContext(ctx).First(&c, characterID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.NotFound("character not found")
		}
		return nil, false, apperr.Internal("load character", err)
	}
	if c.UserID != userID && !c.IsPublic {
		return nil, false, apperr.NotFound("character not found")
	}

	existing, err := s.repo.FindLatestSession(ctx, userID, characterID)
	if err == nil {
		existing.Character = &c
		return existing, false, nil
	}
	if !IsNotFound(err) {
		return nil, false, apperr.Internal("find session", err)
	}

	sess := &Session{
		UserID:        userID,
		CharacterID:   characterID,
		Title:         "Ngobrol dengan " + c.Name,
		CurrentMood:   string(mood.Default),
		MoodIntensity: 5,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, false, apperr.Internal("create session", err)
	}
	sess.Character = &c
	return sess, true, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

func (s *Service) ListMessages(ctx context.Context, userID, sessionID uint64, limit int, beforeID uint64) ([]Message, error) {
	if _, err := s.authorize(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, sessionID, limit, beforeID)
}

func (s *Service) ResetSession(ctx context.Context, userID, sessionID uint64) error {
	if _, err := s.authorize(ctx, userID, sessionID); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.repo.ResetSession(ctx, sessionID)
}

func (s *Service) DeleteSession(ctx context.Context, userID, sessionID uint64) error {
	if _, err := s.authorize(ctx, userID, sessionID); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.repo.DeleteSession(ctx, sessionID)
}

func (s *Service) lock(ctx context.Context, sessionID uint64) (func(), error) {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.New(apperr.TypeConflict, "another message is still being processed", err)
	}
	return unlock, nil
}

func (s *Service) publish(ev analytics.TurnEvent) {
	if s.publisher == nil {
		return
	}
	id, err := common.NewULID()
	if err != nil {
		s.log.Warn("turn event id", zap.Error(err))
		return
	}
	ev.ID = id
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishTurn(ctx, ev); err != nil {
		s.log.Warn("publish turn event failed",
			zap.Uint64("session_id", ev.SessionID),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func trimmed(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
