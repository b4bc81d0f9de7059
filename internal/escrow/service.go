package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/internal/agreements"
	"github.com/angelmondragon/parcelpeer-backend/internal/couriers"
	"github.com/angelmondragon/parcelpeer-backend/internal/disputes"
	"github.com/angelmondragon/parcelpeer-backend/internal/packages"
	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
	"github.com/angelmondragon/parcelpeer-backend/pkg/metrics"
	"github.com/angelmondragon/parcelpeer-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type tokenService interface {
	IssueTx(ctx context.Context, tx *gorm.DB, agreementID, courierID uuid.UUID) (*qr.TokenPayload, error)
	Verify(ctx context.Context, rawToken string) (*models.QRToken, error)
	ConsumeTx(ctx context.Context, tx *gorm.DB, tokenID uuid.UUID, scan qr.ScanMetadata) error
	RetireTx(ctx context.Context, tx *gorm.DB, agreementID uuid.UUID) error
}

// Actor identifies who initiated an operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

func (a Actor) ref() *outbox.ActorRef {
	if a.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: a.UserID, Role: a.Role.String()}
}

var systemActor = Actor{Role: enums.ActorRoleSystem}

// CreateAgreementInput carries everything needed to open an agreement and
// its funds hold.
type CreateAgreementInput struct {
	PackageID       uuid.UUID
	CourierID       uuid.UUID
	PaymentSourceID string
	CustomerID      string
	Actor           Actor
}

// ScanInput is a QR scan attempt against a delivery in transit.
type ScanInput struct {
	Token string
	Actor Actor
	Lat   *float64
	Lng   *float64
}

// ResolveDisputeInput carries the arbiter's disposition.
type ResolveDisputeInput struct {
	DisputeID  uuid.UUID
	Resolution enums.DisputeResolution
	Amount     *decimal.Decimal
	Notes      *string
	Actor      Actor
}

// ReleaseTrigger names what initiated a release, for the event log.
type ReleaseTrigger string

const (
	ReleaseTriggerScan  ReleaseTrigger = "qr_scan"
	ReleaseTriggerAdmin ReleaseTrigger = "admin"
	ReleaseTriggerAuto  ReleaseTrigger = "auto_release"
)

// Service coordinates agreement transitions with custodian calls. Every
// money movement is idempotency-keyed and fronted by a write-ahead intent
// row so crashes between the custodian call and the local commit are
// recoverable.
type Service interface {
	CreateAgreement(ctx context.Context, input CreateAgreementInput) (*models.Agreement, error)
	ConfirmPickup(ctx context.Context, agreementID uuid.UUID, actor Actor) (*models.Agreement, error)
	CompleteDeliveryByScan(ctx context.Context, input ScanInput) (*models.Agreement, error)
	ConfirmDeliveryManual(ctx context.Context, agreementID uuid.UUID, actor Actor) (*models.Agreement, error)
	CancelDelivery(ctx context.Context, agreementID uuid.UUID, reason string, actor Actor) (*models.Agreement, error)
	HandleDispute(ctx context.Context, agreementID uuid.UUID, input disputes.OpenDisputeInput) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, agreementID uuid.UUID, input ResolveDisputeInput) (*models.Agreement, error)
	ReleaseEscrow(ctx context.Context, agreementID uuid.UUID, trigger ReleaseTrigger, actor Actor) (*models.Agreement, error)
	ReconcileIntent(ctx context.Context, intent models.EscrowIntent) error
	Get(ctx context.Context, agreementID uuid.UUID) (*models.Agreement, error)
	History(ctx context.Context, agreementID uuid.UUID) ([]models.AgreementEvent, error)
}

type service struct {
	tx           txRunner
	agreements   agreements.Repository
	packagesRepo packages.Repository
	couriers     couriers.Repository
	disputesRepo disputes.Repository
	intents      IntentRepository
	tokens       tokenService
	provider     Provider
	outbox       outboxPublisher
	cfg          config.EscrowConfig
	logg         *logger.Logger
	metrics      *metrics.EscrowMetrics
}

// ServiceParams wires the escrow orchestrator.
type ServiceParams struct {
	Tx         txRunner
	Agreements agreements.Repository
	Packages   packages.Repository
	Couriers   couriers.Repository
	Disputes   disputes.Repository
	Intents    IntentRepository
	Tokens     tokenService
	Provider   Provider
	Outbox     outboxPublisher
	Config     config.EscrowConfig
	Logger     *logger.Logger
	Metrics    *metrics.EscrowMetrics
}

// NewService builds the escrow orchestrator from its dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Agreements == nil {
		return nil, fmt.Errorf("agreements repository required")
	}
	if params.Packages == nil {
		return nil, fmt.Errorf("packages repository required")
	}
	if params.Couriers == nil {
		return nil, fmt.Errorf("couriers repository required")
	}
	if params.Disputes == nil {
		return nil, fmt.Errorf("disputes repository required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent repository required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token service required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("escrow provider required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:           params.Tx,
		agreements:   params.Agreements,
		packagesRepo: params.Packages,
		couriers:     params.Couriers,
		disputesRepo: params.Disputes,
		intents:      params.Intents,
		tokens:       params.Tokens,
		provider:     params.Provider,
		outbox:       params.Outbox,
		cfg:          params.Config,
		logg:         params.Logger,
		metrics:      params.Metrics,
	}, nil
}

func (s *service) CreateAgreement(ctx context.Context, input CreateAgreementInput) (*models.Agreement, error) {
	if input.PackageID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "package id is required")
	}
	if input.CourierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id is required")
	}
	if input.PaymentSourceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source is required")
	}

	pkg, err := s.packagesRepo.FindByID(ctx, input.PackageID)
	if err != nil {
		return nil, err
	}
	if pkg.Status != enums.PackageStatusPosted {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "package unavailable")
	}

	courier, err := s.couriers.FindByID(ctx, input.CourierID)
	if err != nil {
		return nil, err
	}
	if !courier.Active {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "courier not eligible")
	}

	existing, err := s.agreements.FindActiveByPackageID(ctx, input.PackageID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "duplicate agreement for package")
	}

	price := pkg.PriceOffer
	fee := s.platformFee(price)
	earnings := price.Sub(fee)

	agreementID := uuid.New()
	holdKey := IntentKey(agreementID, enums.EscrowOperationHold)

	var hold *HoldResult
	err = s.callProvider(ctx, string(enums.EscrowOperationHold), func(callCtx context.Context) error {
		var callErr error
		hold, callErr = s.provider.Hold(callCtx, HoldRequest{
			AgreementID:     agreementID,
			SenderID:        pkg.SenderID,
			Amount:          price,
			Currency:        pkg.Currency,
			PaymentSourceID: input.PaymentSourceID,
			CustomerID:      input.CustomerID,
			IdempotencyKey:  holdKey,
			Note:            "parcel delivery escrow",
		})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if hold.Status != enums.EscrowHoldStatusHeld && hold.Status != enums.EscrowHoldStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow hold not established").
			WithDetails(map[string]string{"status": hold.Status.String()})
	}

	now := time.Now().UTC()
	agreement := &models.Agreement{
		ID:               agreementID,
		PackageID:        pkg.ID,
		CourierID:        courier.ID,
		SenderID:         pkg.SenderID,
		AgreedPrice:      price,
		PlatformFee:      fee,
		EscrowAmount:     price,
		CourierEarnings:  earnings,
		Currency:         pkg.Currency,
		Status:           enums.AgreementStatusPendingPickup,
		EscrowHoldRef:    &hold.Reference,
		EscrowHoldStatus: hold.Status,
		EscrowHeldAt:     &now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.packagesRepo.WithTx(tx).Claim(ctx, pkg.ID, courier.ID); err != nil {
			return err
		}
		repo := s.agreements.WithTx(tx)
		if err := repo.Create(ctx, agreement); err != nil {
			return err
		}
		intent, err := s.intents.WithTx(tx).Ensure(ctx, agreementID, enums.EscrowOperationHold, price)
		if err != nil {
			return err
		}
		if err := s.intents.WithTx(tx).MarkExecuted(ctx, intent.ID, &hold.Reference); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreementID, input.Actor, enums.AgreementEventCreated, "", enums.AgreementStatusPendingPickup, map[string]string{
			"hold_ref": hold.Reference,
		})); err != nil {
			return err
		}
		if _, err := s.tokens.IssueTx(ctx, tx, agreementID, courier.ID); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.plainEvent(agreementID, input.Actor, enums.AgreementEventQRGenerated, nil)); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAgreementCreated,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreementID,
			Actor:         input.Actor.ref(),
			Data: map[string]string{
				"package_id": pkg.ID.String(),
				"courier_id": courier.ID.String(),
				"amount":     price.StringFixed(2),
			},
			Version: 1,
		})
	})
	if err != nil {
		// The authorization is already out; void it so the sender is not
		// left with a dangling hold.
		s.voidHold(ctx, agreementID, hold.Reference, price, pkg.Currency)
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"agreement_id": agreementID.String(),
		"package_id":   pkg.ID.String(),
		"courier_id":   courier.ID.String(),
	})
	s.logg.Info(logCtx, "agreement created with escrow hold")

	return s.loadAgreement(ctx, agreementID)
}

func (s *service) ConfirmPickup(ctx context.Context, agreementID uuid.UUID, actor Actor) (*models.Agreement, error) {
	agreement, err := s.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if actor.Role == enums.ActorRoleCourier && actor.UserID != agreement.CourierID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not the assigned courier")
	}
	if err := agreements.Transition(agreement.Status, enums.AgreementStatusInTransit); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.agreements.WithTx(tx)
		if err := repo.UpdateWithVersion(ctx, agreementID, agreement.Version, map[string]any{
			"status":              enums.AgreementStatusInTransit,
			"pickup_confirmed_at": now,
		}); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreementID, actor, enums.AgreementEventPickupConfirmed, agreement.Status, enums.AgreementStatusInTransit, nil)); err != nil {
			return err
		}
		// Fresh token for the delivery leg; the pickup-leg token dies here.
		if _, err := s.tokens.IssueTx(ctx, tx, agreementID, agreement.CourierID); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.plainEvent(agreementID, actor, enums.AgreementEventQRGenerated, nil)); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPickupConfirmed,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreementID,
			Actor:         actor.ref(),
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAgreementID(ctx, agreementID.String()), "pickup confirmed")
	return s.loadAgreement(ctx, agreementID)
}

func (s *service) ConfirmDeliveryManual(ctx context.Context, agreementID uuid.UUID, actor Actor) (*models.Agreement, error) {
	agreement, err := s.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if actor.Role == enums.ActorRoleSender && actor.UserID != agreement.SenderID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not the sender of this package")
	}
	if err := agreements.Transition(agreement.Status, enums.AgreementStatusCompleted); err != nil {
		return nil, err
	}

	// Delivery is confirmed but funds stay held: the auto-release sweep
	// finalizes after the grace window, leaving room for a trailing dispute.
	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.agreements.WithTx(tx)
		if err := repo.UpdateWithVersion(ctx, agreementID, agreement.Version, map[string]any{
			"status":                enums.AgreementStatusCompleted,
			"delivery_confirmed_at": now,
		}); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreementID, actor, enums.AgreementEventDeliveryConfirmed, agreement.Status, enums.AgreementStatusCompleted, map[string]string{
			"confirmation": "manual",
		})); err != nil {
			return err
		}
		if err := s.tokens.RetireTx(ctx, tx, agreementID); err != nil {
			return err
		}
		if err := s.packagesRepo.WithTx(tx).MarkDelivered(ctx, agreement.PackageID); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryConfirmed,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreementID,
			Actor:         actor.ref(),
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAgreementID(ctx, agreementID.String()), "delivery confirmed manually")
	return s.loadAgreement(ctx, agreementID)
}

func (s *service) CancelDelivery(ctx context.Context, agreementID uuid.UUID, reason string, actor Actor) (*models.Agreement, error) {
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancel reason is required")
	}
	agreement, err := s.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status == enums.AgreementStatusDisputed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agreement under dispute")
	}
	if err := agreements.Transition(agreement.Status, enums.AgreementStatusCancelled); err != nil {
		return nil, err
	}

	refunded := false
	if agreement.EscrowHoldStatus == enums.EscrowHoldStatusHeld && agreement.EscrowHoldRef != nil {
		if err := s.refundHold(ctx, agreement); err != nil {
			return nil, err
		}
		refunded = true
	}

	now := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.agreements.WithTx(tx)
		updates := map[string]any{
			"status":        enums.AgreementStatusCancelled,
			"cancelled_at":  now,
			"cancel_reason": reason,
		}
		if refunded {
			updates["escrow_hold_status"] = enums.EscrowHoldStatusRefunded
		}
		if err := repo.UpdateWithVersion(ctx, agreementID, agreement.Version, updates); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreementID, actor, enums.AgreementEventCancelled, agreement.Status, enums.AgreementStatusCancelled, map[string]string{
			"reason": reason,
		})); err != nil {
			return err
		}
		if err := s.tokens.RetireTx(ctx, tx, agreementID); err != nil {
			return err
		}
		if agreement.PickupConfirmedAt == nil {
			if err := s.packagesRepo.WithTx(tx).Unclaim(ctx, agreement.PackageID); err != nil {
				return err
			}
		}
		if refunded {
			if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventEscrowRefunded,
				AggregateType: enums.AggregateAgreement,
				AggregateID:   agreementID,
				Actor:         actor.ref(),
				Version:       1,
			}); err != nil {
				return err
			}
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAgreementCancelled,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreementID,
			Actor:         actor.ref(),
			Data:          map[string]string{"reason": reason},
			Version:       1,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAgreementID(ctx, agreementID.String()), "agreement cancelled")
	return s.loadAgreement(ctx, agreementID)
}

func (s *service) Get(ctx context.Context, agreementID uuid.UUID) (*models.Agreement, error) {
	return s.loadAgreement(ctx, agreementID)
}

func (s *service) History(ctx context.Context, agreementID uuid.UUID) ([]models.AgreementEvent, error) {
	if agreementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agreement id is required")
	}
	return s.agreements.ListEvents(ctx, agreementID)
}

func (s *service) loadAgreement(ctx context.Context, agreementID uuid.UUID) (*models.Agreement, error) {
	if agreementID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agreement id is required")
	}
	agreement, err := s.agreements.FindByID(ctx, agreementID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "agreement not found")
	}
	if err != nil {
		return nil, err
	}
	return agreement, nil
}

func (s *service) platformFee(price decimal.Decimal) decimal.Decimal {
	percent := s.cfg.PlatformFeePercent
	if percent <= 0 {
		percent = 10
	}
	return price.Mul(decimal.NewFromInt(int64(percent))).
		Div(decimal.NewFromInt(100)).
		Round(2)
}

// callProvider wraps a custodian call with the configured timeout, metrics,
// and dependency-error mapping.
func (s *service) callProvider(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	callCtx := ctx
	if s.cfg.ProviderCallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderCallTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	if s.metrics != nil {
		s.metrics.ObserveProviderCall(operation, time.Since(start))
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.IncOperation(operation, outcome)
	}
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "escrow "+operation+" failed")
	}
	return nil
}

// voidHold is a best-effort compensation when local state failed to commit
// after an authorization succeeded.
func (s *service) voidHold(ctx context.Context, agreementID uuid.UUID, reference string, amount decimal.Decimal, currency enums.Currency) {
	err := s.callProvider(ctx, string(enums.EscrowOperationRefund), func(callCtx context.Context) error {
		_, callErr := s.provider.Refund(callCtx, RefundRequest{
			Reference:      reference,
			Amount:         amount,
			Currency:       currency,
			Reason:         "agreement creation failed",
			IdempotencyKey: IntentKey(agreementID, enums.EscrowOperationRefund),
		})
		return callErr
	})
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"agreement_id": agreementID.String(),
			"hold_ref":     reference,
		})
		s.logg.Error(logCtx, "void orphaned hold", err)
	}
}

func (s *service) transitionEvent(agreementID uuid.UUID, actor Actor, eventType enums.AgreementEventType, from, to enums.AgreementStatus, extra map[string]string) *models.AgreementEvent {
	data := map[string]string{"to": to.String()}
	if from != "" {
		data["from"] = from.String()
	}
	for key, value := range extra {
		data[key] = value
	}
	return s.plainEvent(agreementID, actor, eventType, data)
}

func (s *service) plainEvent(agreementID uuid.UUID, actor Actor, eventType enums.AgreementEventType, data map[string]string) *models.AgreementEvent {
	event := &models.AgreementEvent{
		AgreementID: agreementID,
		EventType:   eventType,
		ActorRole:   actor.Role,
	}
	if actor.UserID != uuid.Nil {
		userID := actor.UserID
		event.ActorUserID = &userID
	}
	if event.ActorRole == "" {
		event.ActorRole = enums.ActorRoleSystem
	}
	if len(data) > 0 {
		encoded, err := json.Marshal(data)
		if err == nil {
			event.Data = encoded
		}
	}
	return event
}
