package domain

import (
	"time"

	"gorm.io/datatypes"
)

// EventTypeUnknown is recorded for payloads no provider mapping could read.
const EventTypeUnknown = "unknown"

// WebhookEvent is the immutable record of one inbound webhook call, keyed by
// (provider, payload_hash). The unique index is what makes redelivery of the
// same bytes a detectable duplicate even under concurrent delivery.
// ProcessedAt stays NULL until terminal handling completes.
type WebhookEvent struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Provider    string         `json:"provider"     gorm:"type:text;not null;index;uniqueIndex:ux_webhook_provider_hash,priority:1"`
	EventID     *string        `json:"event_id,omitempty" gorm:"type:text;index"`
	EventType   string         `json:"event_type"   gorm:"type:text;not null"`
	PayloadHash string         `json:"payload_hash" gorm:"type:char(64);not null;uniqueIndex:ux_webhook_provider_hash,priority:2"`
	RawPayload  datatypes.JSON `json:"-"`
	ReceivedAt  time.Time      `json:"received_at"  gorm:"not null;index"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty" gorm:"index"`
}

// TableName implements the GORM tabler interface.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Processed reports whether terminal handling has completed.
func (e *WebhookEvent) Processed() bool { return e != nil && e.ProcessedAt != nil }
