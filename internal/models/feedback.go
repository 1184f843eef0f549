package models

import (
	"time"
)

// Feedback is one comment on the public feedback board
type Feedback struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID  uint   `gorm:"index;not null" json:"user_id"`
	Content string `gorm:"type:text;not null" json:"content"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
