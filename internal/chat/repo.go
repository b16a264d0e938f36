package chat

import (
	"context"
	"errors"

	"github.com/suPer8Hu/kawan-ai/internal/mood"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSessionWithCharacter loads the session and its character in one call.
func (r *Repo) GetSessionWithCharacter(ctx context.Context, id uint64) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Preload("Character").
		First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindLatestSession returns the most recent session between a user and a character.
func (r *Repo) FindLatestSession(ctx context.Context, userID, characterID uint64) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Order("id DESC").
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Preload("Character").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, sessionID uint64, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages in DESC id order (newest -> oldest).
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID uint64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 8
	}
	return r.ListMessages(ctx, sessionID, limit, 0)
}

func (r *Repo) UpdateSessionState(ctx context.Context, id uint64, st SessionState) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"current_mood":        st.Mood,
			"mood_intensity":      st.MoodIntensity,
			"last_mood_change":    st.LastMoodChange,
			"conversation_length": st.ConversationLength,
			"last_user_message":   st.LastUserMessage,
			"user_response_time":  st.UserResponseTime,
			"updated_at":          st.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ResetSession drops the history and mood state but keeps the session row.
func (r *Repo) ResetSession(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Model(&Session{}).Where("id = ?", id).Updates(map[string]any{
			"current_mood":        string(mood.Default),
			"mood_intensity":      5,
			"last_mood_change":    nil,
			"conversation_length": 0,
			"last_user_message":   nil,
			"user_response_time":  0,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// DeleteSession removes the session and its messages.
func (r *Repo) DeleteSession(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Session{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
