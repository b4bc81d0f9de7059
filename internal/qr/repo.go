package qr

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

// ScanMetadata records who scanned a token, where, and when.
type ScanMetadata struct {
	ScannedBy uuid.UUID
	Lat       *float64
	Lng       *float64
	At        time.Time
}

// Repository manages persistence for proof-of-delivery tokens.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, token *models.QRToken) error
	FindByToken(ctx context.Context, token string) (*models.QRToken, error)
	FindActiveByAgreementID(ctx context.Context, agreementID uuid.UUID) (*models.QRToken, error)
	RetireActive(ctx context.Context, agreementID uuid.UUID) error
	MarkExpired(ctx context.Context, id uuid.UUID) error
	Consume(ctx context.Context, id uuid.UUID, scan ScanMetadata) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a token repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, token *models.QRToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *repository) FindByToken(ctx context.Context, token string) (*models.QRToken, error) {
	var row models.QRToken
	err := r.db.WithContext(ctx).
		Where("token = ?", token).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "token not found")
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindActiveByAgreementID(ctx context.Context, agreementID uuid.UUID) (*models.QRToken, error) {
	var row models.QRToken
	err := r.db.WithContext(ctx).
		Where("agreement_id = ? AND status = ?", agreementID, enums.QRTokenStatusActive).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RetireActive expires whatever token is currently active for the
// agreement. Zero rows is fine; there may be none.
func (r *repository) RetireActive(ctx context.Context, agreementID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.QRToken{}).
		Where("agreement_id = ? AND status = ?", agreementID, enums.QRTokenStatusActive).
		Update("status", enums.QRTokenStatusExpired).Error
}

func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.QRToken{}).
		Where("id = ?", id).
		Update("status", enums.QRTokenStatusExpired).Error
}

// Consume flips a token from active to used exactly once. Zero affected
// rows means another scan got there first.
func (r *repository) Consume(ctx context.Context, id uuid.UUID, scan ScanMetadata) error {
	at := scan.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).
		Model(&models.QRToken{}).
		Where("id = ? AND status = ?", id, enums.QRTokenStatusActive).
		Updates(map[string]any{
			"status":     enums.QRTokenStatusUsed,
			"scanned_by": scan.ScannedBy,
			"scanned_at": at,
			"scan_lat":   scan.Lat,
			"scan_lng":   scan.Lng,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "token already used")
	}
	return nil
}

// ExpireStale sweeps active tokens past their expiry.
func (r *repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.QRToken{}).
		Where("status = ? AND expires_at < ?", enums.QRTokenStatusActive, now).
		Update("status", enums.QRTokenStatusExpired)
	return result.RowsAffected, result.Error
}
