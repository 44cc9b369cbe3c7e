// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for WebhookEvent,
// the record that makes webhook intake idempotent.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-rental-funnel/internal/domain"
)

// FindWebhookEvent returns the event recorded for (provider, hash) or ErrNotFound.
func FindWebhookEvent(ctx context.Context, db *gorm.DB, provider, hash string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND payload_hash = ?", provider, hash).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetWebhookEvent fetches an event by primary key.
func GetWebhookEvent(ctx context.Context, db *gorm.DB, id string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	if err := db.WithContext(ctx).First(&ev, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &ev, nil
}

// CreateWebhookEvent inserts ev, filling ID and ReceivedAt when empty.
// Returns ErrDuplicate when (provider, payload_hash) already exists.
func CreateWebhookEvent(ctx context.Context, db *gorm.DB, ev *domain.WebhookEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	return create(db.WithContext(ctx), ev)
}

// MarkWebhookEventProcessed stamps processed_at if it is still NULL. Calling it
// again is a no-op. Returns ErrNotFound only when the event does not exist.
func MarkWebhookEventProcessed(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := db.WithContext(ctx).Model(&domain.WebhookEvent{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// ListUnprocessedWebhookEvents returns events still awaiting terminal
// handling, oldest first.
func ListUnprocessedWebhookEvents(ctx context.Context, db *gorm.DB, limit int) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("received_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
