package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/db/models"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
)

// DLQRepository stores outbox events that ran out of publish attempts.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// RecordTx writes entry inside the transaction that marks the event
// terminal, so an event is never both pending and dead-lettered.
func (r *DLQRepository) RecordTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("dead-letter insert needs a transaction")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// ByEventID returns nil without error when the event was never dead-lettered.
func (r *DLQRepository) ByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	switch err := r.db.WithContext(ctx).Take(&entry, "event_id = ?", eventID).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &entry, nil
}

// Recent lists the newest entries first.
func (r *DLQRepository) Recent(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListed
	}
	var entries []models.OutboxDLQ
	if err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
