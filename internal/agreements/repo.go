package agreements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

// Repository manages persistence for agreements and their event log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, agreement *models.Agreement) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Agreement, error)
	FindActiveByPackageID(ctx context.Context, packageID uuid.UUID) (*models.Agreement, error)
	UpdateWithVersion(ctx context.Context, id uuid.UUID, version int, updates map[string]any) error
	AppendEvent(ctx context.Context, event *models.AgreementEvent) error
	ListEvents(ctx context.Context, agreementID uuid.UUID) ([]models.AgreementEvent, error)
	ListAutoReleasable(ctx context.Context, cutoff time.Time, limit int) ([]models.Agreement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an agreements repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, agreement *models.Agreement) error {
	return r.db.WithContext(ctx).Create(agreement).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Agreement, error) {
	var agreement models.Agreement
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&agreement).Error
	if err != nil {
		return nil, err
	}
	return &agreement, nil
}

// FindActiveByPackageID returns the package's non-cancelled agreement, or
// nil when none exists.
func (r *repository) FindActiveByPackageID(ctx context.Context, packageID uuid.UUID) (*models.Agreement, error) {
	var agreement models.Agreement
	err := r.db.WithContext(ctx).
		Where("package_id = ? AND status <> ?", packageID, enums.AgreementStatusCancelled).
		First(&agreement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agreement, nil
}

// UpdateWithVersion applies updates only when the row still carries the
// version the caller loaded, bumping the version in the same statement.
// Zero affected rows means a concurrent writer won.
func (r *repository) UpdateWithVersion(ctx context.Context, id uuid.UUID, version int, updates map[string]any) error {
	applied := make(map[string]any, len(updates)+1)
	for column, value := range updates {
		applied[column] = value
	}
	applied["version"] = gorm.Expr("version + 1")

	result := r.db.WithContext(ctx).
		Model(&models.Agreement{}).
		Where("id = ? AND version = ?", id, version).
		Updates(applied)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "agreement modified concurrently")
	}
	return nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.AgreementEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, agreementID uuid.UUID) ([]models.AgreementEvent, error) {
	var events []models.AgreementEvent
	err := r.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListAutoReleasable selects completed agreements whose hold is still held
// and whose delivery confirmation predates the cutoff, oldest first. Frozen
// holds await manual settlement and never qualify.
func (r *repository) ListAutoReleasable(ctx context.Context, cutoff time.Time, limit int) ([]models.Agreement, error) {
	var agreements []models.Agreement
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.AgreementStatusCompleted).
		Where("escrow_hold_status = ?", enums.EscrowHoldStatusHeld).
		Where("escrow_released_at IS NULL").
		Where("delivery_confirmed_at IS NOT NULL AND delivery_confirmed_at < ?", cutoff).
		Order("delivery_confirmed_at ASC").
		Limit(limit).
		Find(&agreements).Error
	if err != nil {
		return nil, err
	}
	return agreements, nil
}
