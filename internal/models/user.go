package models

import (
	"time"
)

// User is a registered account on the feedback board. Orders reference
// users optionally; anonymous checkouts leave the link null.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Password string `gorm:"type:varchar(255);not null" json:"-"`
	Email    string `gorm:"type:varchar(255)" json:"email,omitempty"`

	// Relationships
	Feedbacks []Feedback `gorm:"foreignKey:UserID" json:"feedbacks,omitempty"`
	Licenses  []License  `gorm:"foreignKey:UserID" json:"licenses,omitempty"`
}
