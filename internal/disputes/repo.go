package disputes

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

// ResolutionRecord captures the arbiter's disposition for a dispute.
type ResolutionRecord struct {
	Resolution enums.DisputeResolution
	ResolvedBy uuid.UUID
	Amount     *decimal.Decimal
	AdminNotes *string
}

// Repository manages persistence for disputes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindActiveByAgreementID(ctx context.Context, agreementID uuid.UUID) (*models.Dispute, error)
	ListByAgreementID(ctx context.Context, agreementID uuid.UUID) ([]models.Dispute, error)
	MarkUnderReview(ctx context.Context, id uuid.UUID) error
	Resolve(ctx context.Context, id uuid.UUID, record ResolutionRecord) error
	Close(ctx context.Context, id uuid.UUID, adminID uuid.UUID, notes *string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a dispute repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&dispute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// FindActiveByAgreementID returns the agreement's open-or-under-review
// dispute, or nil when none exists.
func (r *repository) FindActiveByAgreementID(ctx context.Context, agreementID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("agreement_id = ? AND status IN ?", agreementID, []enums.DisputeStatus{
			enums.DisputeStatusOpen,
			enums.DisputeStatusUnderReview,
		}).
		First(&dispute).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

func (r *repository) ListByAgreementID(ctx context.Context, agreementID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.WithContext(ctx).
		Where("agreement_id = ?", agreementID).
		Order("created_at ASC").
		Find(&disputes).Error
	if err != nil {
		return nil, err
	}
	return disputes, nil
}

// MarkUnderReview moves an open dispute into review. The guarded update
// keeps a second admin from racing the first.
func (r *repository) MarkUnderReview(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, enums.DisputeStatusOpen).
		Update("status", enums.DisputeStatusUnderReview)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "dispute not open")
	}
	return nil
}

func (r *repository) Resolve(ctx context.Context, id uuid.UUID, record ResolutionRecord) error {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", id, []enums.DisputeStatus{
			enums.DisputeStatusOpen,
			enums.DisputeStatusUnderReview,
		}).
		Updates(map[string]any{
			"status":            enums.DisputeStatusResolved,
			"resolution":        record.Resolution,
			"resolution_amount": record.Amount,
			"resolved_by":       record.ResolvedBy,
			"resolved_at":       time.Now().UTC(),
			"admin_notes":       record.AdminNotes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute not resolvable")
	}
	return nil
}

func (r *repository) Close(ctx context.Context, id uuid.UUID, adminID uuid.UUID, notes *string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", id, []enums.DisputeStatus{
			enums.DisputeStatusOpen,
			enums.DisputeStatusUnderReview,
		}).
		Updates(map[string]any{
			"status":      enums.DisputeStatusClosed,
			"resolved_by": adminID,
			"resolved_at": time.Now().UTC(),
			"admin_notes": notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "dispute not closable")
	}
	return nil
}
