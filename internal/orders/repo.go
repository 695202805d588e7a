package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/natalfamilia/natal-backend/pkg/db/models"
	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// Repository persists orders. ApproveIfPending is the only status mutation.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error
	ApproveIfPending(ctx context.Context, id uuid.UUID, paymentID string, at time.Time) (ApproveResult, error)
	ListStalePending(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Order, error)
}

// ApproveResult reports whether this call performed the PENDING to APPROVED
// transition. Applied=false means someone else already did.
type ApproveResult struct {
	Applied bool
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an orders repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Status = enums.OrderStatusPending
	order.ApprovedAt = nil
	order.ProviderPaymentID = nil
	if order.ProviderPreferenceID == "" {
		order.ProviderPreferenceID = models.PlaceholderPreferenceID
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) SetPreferenceID(ctx context.Context, id uuid.UUID, preferenceID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{"provider_preference_id": preferenceID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApproveIfPending is a compare-and-set on status; concurrent callers across
// processes see exactly one Applied=true.
func (r *repositoryImpl) ApproveIfPending(ctx context.Context, id uuid.UUID, paymentID string, at time.Time) (ApproveResult, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusPending).
		Updates(map[string]any{
			"status":              enums.OrderStatusApproved,
			"provider_payment_id": paymentID,
			"approved_at":         at,
			"updated_at":          at,
		})
	if res.Error != nil {
		return ApproveResult{}, res.Error
	}
	return ApproveResult{Applied: res.RowsAffected == 1}, nil
}

func (r *repositoryImpl) ListStalePending(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND created_at > ?", enums.OrderStatusPending, createdBefore, createdAfter).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
