package qr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
)

const tokenBytes = 32

// TokenPayload is the signed blob handed to the courier's device.
type TokenPayload struct {
	Token       string    `json:"token"`
	AgreementID uuid.UUID `json:"agreementId"`
	CourierID   uuid.UUID `json:"courierId"`
	Timestamp   int64     `json:"timestamp"`
	Signature   string    `json:"signature"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Service generates and validates proof-of-delivery tokens. It never walks
// the agreement lifecycle itself; the escrow orchestrator owns the scan
// transaction and calls back in for token work.
type Service interface {
	IssueTx(ctx context.Context, tx *gorm.DB, agreementID, courierID uuid.UUID) (*TokenPayload, error)
	Verify(ctx context.Context, rawToken string) (*models.QRToken, error)
	ConsumeTx(ctx context.Context, tx *gorm.DB, tokenID uuid.UUID, scan ScanMetadata) error
	RetireTx(ctx context.Context, tx *gorm.DB, agreementID uuid.UUID) error
	ActivePayload(ctx context.Context, agreementID uuid.UUID) (*TokenPayload, error)
}

type service struct {
	repo   Repository
	signer *Signer
	ttl    time.Duration
	logg   *logger.Logger
}

// ServiceParams wires a QR token service.
type ServiceParams struct {
	Repo   Repository
	Signer *Signer
	TTL    time.Duration
	Logger *logger.Logger
}

// NewService builds a QR token service from its dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("qr repository required")
	}
	if params.Signer == nil {
		return nil, fmt.Errorf("qr signer required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("qr token ttl required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   params.Repo,
		signer: params.Signer,
		ttl:    params.TTL,
		logg:   params.Logger,
	}, nil
}

// IssueTx retires any prior active token for the agreement and inserts a
// fresh one inside the caller's transaction.
func (s *service) IssueTx(ctx context.Context, tx *gorm.DB, agreementID, courierID uuid.UUID) (*TokenPayload, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if agreementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agreement id is required")
	}
	if courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id is required")
	}

	repo := s.repo.WithTx(tx)
	if err := repo.RetireActive(ctx, agreementID); err != nil {
		return nil, err
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate token")
	}
	token := hex.EncodeToString(raw)
	signature := s.signer.Sign(token, agreementID, courierID)

	now := time.Now().UTC()
	row := &models.QRToken{
		AgreementID: agreementID,
		CourierID:   courierID,
		Token:       token,
		Signature:   signature,
		Status:      enums.QRTokenStatusActive,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := repo.Create(ctx, row); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithAgreementID(ctx, agreementID.String())
	s.logg.Info(logCtx, "qr token issued")

	return s.payloadFor(row, now), nil
}

// Verify walks the token checks in order: existence, expiry, single-use
// state, signature. Expiry observed here is persisted so the row reflects
// what the scanner saw.
func (s *service) Verify(ctx context.Context, rawToken string) (*models.QRToken, error) {
	if rawToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}

	row, err := s.repo.FindByToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		if row.Status == enums.QRTokenStatusActive {
			if err := s.repo.MarkExpired(ctx, row.ID); err != nil {
				s.logg.Error(ctx, "persist token expiry", err)
			}
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "token expired")
	}
	if row.Status != enums.QRTokenStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "token already used")
	}
	if !s.signer.Verify(row.Token, row.AgreementID, row.CourierID, row.Signature) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token signature invalid")
	}
	return row, nil
}

// ConsumeTx marks the token used inside the caller's transaction. Exactly
// one of two concurrent scans survives the guarded update.
func (s *service) ConsumeTx(ctx context.Context, tx *gorm.DB, tokenID uuid.UUID, scan ScanMetadata) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	return s.repo.WithTx(tx).Consume(ctx, tokenID, scan)
}

// RetireTx expires the agreement's active token, if any, inside the
// caller's transaction.
func (s *service) RetireTx(ctx context.Context, tx *gorm.DB, agreementID uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	return s.repo.WithTx(tx).RetireActive(ctx, agreementID)
}

// ActivePayload rebuilds the signed payload for the agreement's current
// token, for re-display on the courier's device.
func (s *service) ActivePayload(ctx context.Context, agreementID uuid.UUID) (*TokenPayload, error) {
	if agreementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agreement id is required")
	}
	row, err := s.repo.FindActiveByAgreementID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active token")
	}
	return s.payloadFor(row, row.CreatedAt), nil
}

func (s *service) payloadFor(row *models.QRToken, issuedAt time.Time) *TokenPayload {
	return &TokenPayload{
		Token:       row.Token,
		AgreementID: row.AgreementID,
		CourierID:   row.CourierID,
		Timestamp:   issuedAt.UnixMilli(),
		Signature:   row.Signature,
		ExpiresAt:   row.ExpiresAt,
	}
}
