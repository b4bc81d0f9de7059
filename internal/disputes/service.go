package disputes

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
	"github.com/angelmondragon/parcelpeer-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OpenDisputeInput is the caller-supplied context for raising a dispute.
// Opening itself runs through the escrow orchestrator so the agreement
// transition and the dispute row commit together.
type OpenDisputeInput struct {
	RaisedBy    uuid.UUID
	RaisedRole  enums.ActorRole
	Type        enums.DisputeType
	Description string
	Evidence    []string
}

// Validate checks the input before any persistence is attempted.
func (in OpenDisputeInput) Validate() error {
	if in.RaisedBy == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "raised_by is required")
	}
	if !in.RaisedRole.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid actor role %q", in.RaisedRole))
	}
	if !in.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid dispute type %q", in.Type))
	}
	if in.Description == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "description is required")
	}
	return nil
}

// Service exposes the dispute operations that do not move funds: review
// hand-off, closing without resolution, and reads. Resolution runs through
// the escrow orchestrator because it settles the hold.
type Service interface {
	StartReview(ctx context.Context, disputeID, adminID uuid.UUID) (*models.Dispute, error)
	CloseWithoutResolution(ctx context.Context, disputeID, adminID uuid.UUID, notes *string) (*models.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	ListForAgreement(ctx context.Context, agreementID uuid.UUID) ([]models.Dispute, error)
}

type service struct {
	tx     txRunner
	repo   Repository
	outbox outboxPublisher
	logg   *logger.Logger
}

// ServiceParams wires a dispute service.
type ServiceParams struct {
	Tx     txRunner
	Repo   Repository
	Outbox outboxPublisher
	Logger *logger.Logger
}

// NewService builds a dispute service from its dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("dispute repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:     params.Tx,
		repo:   params.Repo,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

func (s *service) StartReview(ctx context.Context, disputeID, adminID uuid.UUID) (*models.Dispute, error) {
	if disputeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id is required")
	}
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id is required")
	}

	dispute, err := s.repo.FindByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.MarkUnderReview(ctx, disputeID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeUnderReview,
			AggregateType: enums.AggregateDispute,
			AggregateID:   disputeID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: enums.ActorRoleAdmin.String()},
			Data: map[string]string{
				"dispute_id":   disputeID.String(),
				"agreement_id": dispute.AgreementID.String(),
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dispute_id": disputeID.String(),
		"admin_id":   adminID.String(),
	})
	s.logg.Info(logCtx, "dispute moved to review")

	return s.repo.FindByID(ctx, disputeID)
}

func (s *service) CloseWithoutResolution(ctx context.Context, disputeID, adminID uuid.UUID, notes *string) (*models.Dispute, error) {
	if disputeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id is required")
	}
	if adminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "admin id is required")
	}

	if err := s.repo.Close(ctx, disputeID, adminID, notes); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dispute_id": disputeID.String(),
		"admin_id":   adminID.String(),
	})
	s.logg.Info(logCtx, "dispute closed without resolution")

	return s.repo.FindByID(ctx, disputeID)
}

func (s *service) Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	if disputeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id is required")
	}
	return s.repo.FindByID(ctx, disputeID)
}

func (s *service) ListForAgreement(ctx context.Context, agreementID uuid.UUID) ([]models.Dispute, error) {
	if agreementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agreement id is required")
	}
	return s.repo.ListByAgreementID(ctx, agreementID)
}
