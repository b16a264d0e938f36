package models

import "time"

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type ComplianceMode string

const (
	ComplianceStrict   ComplianceMode = "strict"
	ComplianceStandard ComplianceMode = "standard"
	ComplianceObedient ComplianceMode = "obedient"
)

type Character struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         uint64         `gorm:"index;not null" json:"userId"`
	Name           string         `gorm:"type:varchar(100);not null" json:"name"`
	Summary        string         `gorm:"type:text" json:"summary"`
	Synopsis       string         `gorm:"type:text" json:"synopsis"`
	Description    string         `gorm:"type:text" json:"description"`
	Greeting       string         `gorm:"type:text" json:"greeting"`
	AvatarURL      string         `gorm:"type:varchar(512)" json:"avatarUrl"`
	ComplianceMode ComplianceMode `gorm:"type:varchar(16);not null;default:standard" json:"complianceMode"`
	IsPublic       bool           `gorm:"not null;default:false" json:"isPublic"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

func (Character) TableName() string { return "characters" }
