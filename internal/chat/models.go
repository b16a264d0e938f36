package chat

import (
	"time"

	"github.com/suPer8Hu/kawan-ai/internal/models"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Session struct {
	ID          uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64            `gorm:"not null;index:idx_chat_session_user_character,priority:1" json:"userId"`
	CharacterID uint64            `gorm:"not null;index:idx_chat_session_user_character,priority:2" json:"characterId"`
	Character   *models.Character `gorm:"foreignKey:CharacterID" json:"character,omitempty"`
	Title       string            `gorm:"type:varchar(191)" json:"title"`

	CurrentMood        string     `gorm:"type:varchar(16);not null;default:happy" json:"currentMood"`
	MoodIntensity      int        `gorm:"not null;default:5" json:"moodIntensity"`
	LastMoodChange     *time.Time `json:"lastMoodChange"`
	ConversationLength int        `gorm:"not null;default:0" json:"conversationLength"`
	LastUserMessage    *time.Time `json:"lastUserMessage"`
	UserResponseTime   int        `gorm:"not null;default:0" json:"userResponseTime"`

	Messages []Message `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        uint64    `gorm:"not null;index" json:"sessionId"`
	Role             string    `gorm:"type:varchar(16);not null" json:"role"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	ImageURL         *string   `gorm:"type:varchar(1024)" json:"imageUrl,omitempty"`
	ImageDescription *string   `gorm:"type:text" json:"imageDescription,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (Message) TableName() string { return "chat_messages" }

// SessionState is the set of columns written at the end of a completed turn.
type SessionState struct {
	Mood               string
	MoodIntensity      int
	LastMoodChange     *time.Time
	ConversationLength int
	LastUserMessage    time.Time
	UserResponseTime   int
	UpdatedAt          time.Time
}
