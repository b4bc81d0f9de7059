package couriers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

// Repository is the escrow subsystem's view of the courier registry:
// eligibility plus running delivery stats.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Courier, error)
	RecordDelivery(ctx context.Context, id uuid.UUID, earnings decimal.Decimal) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a courier repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Courier, error) {
	var courier models.Courier
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&courier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "courier not found")
	}
	if err != nil {
		return nil, err
	}
	return &courier, nil
}

// RecordDelivery bumps the courier's stats for one completed delivery.
func (r *repository) RecordDelivery(ctx context.Context, id uuid.UUID, earnings decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&models.Courier{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"delivery_count":   gorm.Expr("delivery_count + 1"),
			"total_earnings":   gorm.Expr("total_earnings + ?", earnings),
			"last_delivery_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "courier not found")
	}
	return nil
}
