package models

import (
	"time"
)

// OrderStatus represents the payment lifecycle of an order
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// LicenseStatus represents the license lifecycle, an independent axis
// from the payment status. It only ever moves forward:
// NOT_CREATED -> REQUEST_CREATED -> CREATED or CREATION_FAILED.
type LicenseStatus string

const (
	LicenseStatusNotCreated     LicenseStatus = "NOT_CREATED"
	LicenseStatusRequestCreated LicenseStatus = "REQUEST_CREATED"
	LicenseStatusCreated        LicenseStatus = "CREATED"
	LicenseStatusCreationFailed LicenseStatus = "CREATION_FAILED"
)

// Order is one checkout attempt, keyed by the PayPal order id. Both the
// browser approval redirect and the PayPal webhook write to this row,
// in no guaranteed relative order.
type Order struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID string `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_id"`
	UserID  *uint  `gorm:"index" json:"user_id,omitempty"`
	Email   string `gorm:"type:varchar(255)" json:"email"`

	ProductName  string  `gorm:"type:varchar(255)" json:"product_name"`
	ProductPrice float64 `gorm:"type:decimal(15,2)" json:"product_price"`
	Currency     string  `gorm:"type:varchar(8)" json:"currency"`

	Status        OrderStatus   `gorm:"type:varchar(20);index;default:'CREATED'" json:"status"`
	LicenseStatus LicenseStatus `gorm:"type:varchar(20);default:'NOT_CREATED'" json:"license_status"`

	// Payer identity, populated once by whichever event source supplies
	// it first and never overwritten afterwards.
	PayerID          *string `gorm:"type:varchar(64)" json:"payer_id,omitempty"`
	PayerEmail       *string `gorm:"type:varchar(255)" json:"payer_email,omitempty"`
	PayerGivenName   *string `gorm:"type:varchar(255)" json:"payer_given_name,omitempty"`
	PayerSurname     *string `gorm:"type:varchar(255)" json:"payer_surname,omitempty"`
	PayerCountryCode *string `gorm:"type:varchar(8)" json:"payer_country_code,omitempty"`

	// Latest webhook metadata, overwritten on every verified event.
	// Audit only, never consulted by business logic.
	WebhookEventType       string `gorm:"type:varchar(100)" json:"webhook_event_type"`
	WebhookResourceType    string `gorm:"type:varchar(100)" json:"webhook_resource_type"`
	WebhookResourceVersion string `gorm:"type:varchar(20)" json:"webhook_resource_version"`
	WebhookSummary         string `gorm:"type:text" json:"webhook_summary"`
}
