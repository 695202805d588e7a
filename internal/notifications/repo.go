package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/natalfamilia/natal-backend/pkg/db"
	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
	"github.com/natalfamilia/natal-backend/pkg/pagination"
)

const maxLastErrorLen = 1024

// ErrTaskNotFound is returned when no task matches an id.
var ErrTaskNotFound = errors.New("notification task not found")

var ErrInvalidCursor = errors.New("invalid cursor")

// Repository persists notification tasks.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert adds a queued task. It returns false when a queued task for the same
// object already exists.
func (r *Repository) Insert(ctx context.Context, task *models.NotificationTask) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(task)
	if res.Error != nil {
		if dbpkg.IsUniqueViolation(res.Error, "ux_notification_tasks_queued_object") {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClaimTx moves up to limit due tasks to processing and bumps their attempt
// count. Processing rows whose lease expired are claimed again.
func (r *Repository) ClaimTx(tx *gorm.DB, now time.Time, lease time.Duration, limit int) ([]models.NotificationTask, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var rows []models.NotificationTask
	err := dbpkg.ForUpdateSkipLocked(tx).
		Where("(status = ? AND available_at <= ?) OR (status = ? AND locked_at < ?)",
			enums.NotificationTaskQueued, now,
			enums.NotificationTaskProcessing, now.Add(-lease)).
		Order("available_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
		rows[i].Status = enums.NotificationTaskProcessing
		rows[i].AttemptCount++
		locked := now
		rows[i].LockedAt = &locked
	}
	err = tx.Model(&models.NotificationTask{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":        enums.NotificationTaskProcessing,
			"locked_at":     now,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// TaskUpdate is the dispatcher's verdict on one task.
type TaskUpdate struct {
	Status      enums.NotificationTaskStatus
	Outcome     string
	Detail      string
	OrderID     *uuid.UUID
	AvailableAt time.Time
	At          time.Time
}

// Finish records the verdict on a processing task. A queued status puts the
// task back in line at AvailableAt.
func (r *Repository) Finish(ctx context.Context, id uuid.UUID, update TaskUpdate) error {
	values := map[string]any{
		"status":       update.Status,
		"locked_at":    nil,
		"last_outcome": update.Outcome,
		"last_error":   truncate(update.Detail),
	}
	if update.OrderID != nil {
		values["order_id"] = *update.OrderID
	}
	if update.Status == enums.NotificationTaskQueued {
		values["available_at"] = update.AvailableAt
	} else {
		values["handled_at"] = update.At
	}
	res := r.db.WithContext(ctx).
		Model(&models.NotificationTask{}).
		Where("id = ? AND status = ?", id, enums.NotificationTaskProcessing).
		Updates(values)
	return res.Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.NotificationTask, error) {
	var task models.NotificationTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if dbpkg.IsNotFound(err) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListQuery filters the ops task listing.
type ListQuery struct {
	Status enums.NotificationTaskStatus
	pagination.Params
}

// List returns tasks newest first, one keyset page at a time.
func (r *Repository) List(ctx context.Context, q ListQuery) (pagination.Page[models.NotificationTask], error) {
	cursor, err := pagination.ParseCursor(q.Cursor)
	if err != nil {
		return pagination.Page[models.NotificationTask]{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	query := r.db.WithContext(ctx).Model(&models.NotificationTask{})
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.NotificationTask
	err = query.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(q.Limit)).Find(&rows).Error
	if err != nil {
		return pagination.Page[models.NotificationTask]{}, err
	}
	return pagination.Trim(rows, q.Limit, func(t models.NotificationTask) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	}), nil
}

// DeleteTerminalBefore removes finished tasks last touched before cutoff.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []enums.NotificationTaskStatus{
			enums.NotificationTaskHandled,
			enums.NotificationTaskDiscarded,
			enums.NotificationTaskFailed,
		}, cutoff).
		Delete(&models.NotificationTask{})
	return res.RowsAffected, res.Error
}

// truncate bounds a verdict detail for last_error. Details can carry gateway
// response text, so invalid UTF-8 is dropped and the cut lands on a rune
// boundary; Postgres rejects anything else in a text column.
func truncate(msg string) *string {
	msg = strings.ToValidUTF8(msg, "")
	if msg == "" {
		return nil
	}
	if len(msg) > maxLastErrorLen {
		cut := maxLastErrorLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return &msg
}
