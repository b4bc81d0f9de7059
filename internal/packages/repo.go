package packages

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

// Repository is the escrow subsystem's view of the package registry:
// availability, the price offer, and the claim lifecycle.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Package, error)
	Claim(ctx context.Context, id, courierID uuid.UUID) error
	Unclaim(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a package repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Package, error) {
	var pkg models.Package
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&pkg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "package not found")
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// Claim moves a posted package to claimed. The guarded update loses against
// a concurrent claim, which surfaces as a conflict.
func (r *repository) Claim(ctx context.Context, id, courierID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Package{}).
		Where("id = ? AND status = ?", id, enums.PackageStatusPosted).
		Updates(map[string]any{
			"status":     enums.PackageStatusClaimed,
			"claimed_by": courierID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "package unavailable")
	}
	return nil
}

// Unclaim re-opens a claimed package after a pre-pickup cancellation.
func (r *repository) Unclaim(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Package{}).
		Where("id = ? AND status = ?", id, enums.PackageStatusClaimed).
		Updates(map[string]any{
			"status":     enums.PackageStatusPosted,
			"claimed_by": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "package not claimed")
	}
	return nil
}

func (r *repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Package{}).
		Where("id = ? AND status = ?", id, enums.PackageStatusClaimed).
		Update("status", enums.PackageStatusDelivered)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "package not claimed")
	}
	return nil
}
