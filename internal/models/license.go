package models

import (
	"time"
)

// LicenseRecordStatus represents the state of an issued license
type LicenseRecordStatus string

const (
	LicenseRecordStatusActive  LicenseRecordStatus = "active"
	LicenseRecordStatusRevoked LicenseRecordStatus = "revoked"
)

// License is the issued artifact for a fulfilled order. A row exists
// only after the license service has called back with a key, and only
// for orders with a known owning user.
type License struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID      uint                `gorm:"index" json:"user_id"`
	OrderID     string              `gorm:"type:varchar(64);index;not null" json:"order_id"`
	ProductName string              `gorm:"type:varchar(255)" json:"product_name"`
	LicenseKey  string              `gorm:"type:varchar(255);not null" json:"license_key"`
	PurchasedAt time.Time           `json:"purchased_at"`
	Status      LicenseRecordStatus `gorm:"type:varchar(20);default:'active'" json:"status"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
