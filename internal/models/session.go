package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session holds the OAuth credentials of one signed-in user
type Session struct {
	ID              string     `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"index;column:user_id" json:"user_id"`
	ChannelTitle    string     `gorm:"column:channel_title" json:"channel_title"`
	Authenticated   bool       `gorm:"not null;default:false" json:"authenticated"`
	AccessToken     string     `gorm:"type:text;column:access_token" json:"-"`
	TokenExpiry     *time.Time `gorm:"column:token_expiry" json:"token_expiry"`
	RefreshTokenEnc string     `gorm:"type:text;column:refresh_token_enc" json:"-"` // Encrypted, never expose in JSON
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (Session) TableName() string {
	return "sessions"
}

// UserSession is the secondary index userId -> most recently refreshed session
type UserSession struct {
	UserID    string    `gorm:"primaryKey;column:user_id" json:"user_id"`
	SessionID string    `gorm:"not null;column:session_id" json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (UserSession) TableName() string {
	return "user_sessions"
}
