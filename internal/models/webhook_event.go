package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent is an append-only log of every verified PayPal webhook
// delivery. The raw payload is kept so disputes can be replayed against
// exactly what the provider sent.
type WebhookEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ProviderEventID string          `gorm:"type:varchar(128);index" json:"provider_event_id"`
	EventType       string          `gorm:"type:varchar(100);index" json:"event_type"`
	OrderID         string          `gorm:"type:varchar(64);index" json:"order_id"`
	Payload         json.RawMessage `gorm:"type:jsonb" json:"payload"`
}
