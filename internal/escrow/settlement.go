package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/internal/agreements"
	"github.com/angelmondragon/parcelpeer-backend/internal/disputes"
	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	dbpkg "github.com/angelmondragon/parcelpeer-backend/pkg/db"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/outbox"
)

func (s *service) CompleteDeliveryByScan(ctx context.Context, input ScanInput) (*models.Agreement, error) {
	token, err := s.tokens.Verify(ctx, input.Token)
	if err != nil {
		return nil, err
	}

	agreement, err := s.loadAgreement(ctx, token.AgreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status != enums.AgreementStatusInTransit {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agreement not in transit")
	}

	scannedAt := time.Now().UTC()
	err = s.executeRelease(ctx, agreement, ReleaseTriggerScan, input.Actor, func(tx *gorm.DB) error {
		// The single-use guard: exactly one of two concurrent scans
		// survives this update.
		if err := s.tokens.ConsumeTx(ctx, tx, token.ID, qr.ScanMetadata{
			ScannedBy: input.Actor.UserID,
			Lat:       input.Lat,
			Lng:       input.Lng,
			At:        scannedAt,
		}); err != nil {
			return err
		}
		return s.agreements.WithTx(tx).AppendEvent(ctx, s.plainEvent(agreement.ID, input.Actor, enums.AgreementEventQRScanned, map[string]string{
			"token_id": token.ID.String(),
		}))
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAgreementID(ctx, agreement.ID.String()), "delivery completed by scan")
	return s.loadAgreement(ctx, agreement.ID)
}

func (s *service) ReleaseEscrow(ctx context.Context, agreementID uuid.UUID, trigger ReleaseTrigger, actor Actor) (*models.Agreement, error) {
	agreement, err := s.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.EscrowReleasedAt != nil {
		return agreement, nil
	}

	switch agreement.Status {
	case enums.AgreementStatusCompleted:
	case enums.AgreementStatusInTransit:
		// Only an admin can short-circuit the scan.
		if trigger != ReleaseTriggerAdmin {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agreement not completed")
		}
	case enums.AgreementStatusDisputed:
		// An admin may unblock an agreement whose dispute was closed
		// without a resolution. A live dispute keeps the freeze.
		if trigger != ReleaseTriggerAdmin {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agreement disputed")
		}
		active, err := s.disputesRepo.FindActiveByAgreementID(ctx, agreementID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "active dispute must be resolved first")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agreement not releasable")
	}

	if err := s.executeRelease(ctx, agreement, trigger, actor, nil); err != nil {
		return nil, err
	}
	return s.loadAgreement(ctx, agreementID)
}

// executeRelease runs the three-phase release: commit the write-ahead
// intent, capture the hold, then commit the local bookkeeping. A crash
// between the capture and the final commit leaves a pending intent for the
// reconcile sweep.
func (s *service) executeRelease(ctx context.Context, agreement *models.Agreement, trigger ReleaseTrigger, actor Actor, pre func(tx *gorm.DB) error) error {
	if agreement.EscrowHoldRef == nil || agreement.EscrowHoldStatus != enums.EscrowHoldStatusHeld {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow hold not held")
	}

	var intent *models.EscrowIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var ensureErr error
		intent, ensureErr = s.intents.WithTx(tx).Ensure(ctx, agreement.ID, enums.EscrowOperationRelease, agreement.EscrowAmount)
		return ensureErr
	})
	if err != nil {
		return err
	}

	err = s.callProvider(ctx, string(enums.EscrowOperationRelease), func(callCtx context.Context) error {
		_, callErr := s.provider.Release(callCtx, ReleaseRequest{
			Reference:      *agreement.EscrowHoldRef,
			IdempotencyKey: intent.IdempotencyKey,
		})
		return callErr
	})
	if err != nil {
		s.recordIntentFailure(ctx, intent.ID, err)
		return err
	}

	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if pre != nil {
			if err := pre(tx); err != nil {
				return err
			}
		}

		repo := s.agreements.WithTx(tx)
		deliveryJustConfirmed := agreement.DeliveryConfirmedAt == nil
		updates := map[string]any{
			"status":             enums.AgreementStatusCompleted,
			"escrow_released_at": now,
			"escrow_hold_status": enums.EscrowHoldStatusReleased,
		}
		if deliveryJustConfirmed {
			updates["delivery_confirmed_at"] = now
		}
		if err := repo.UpdateWithVersion(ctx, agreement.ID, agreement.Version, updates); err != nil {
			return err
		}
		if err := s.intents.WithTx(tx).MarkExecuted(ctx, intent.ID, agreement.EscrowHoldRef); err != nil {
			return err
		}

		if agreement.Status != enums.AgreementStatusCompleted {
			if err := repo.AppendEvent(ctx, s.transitionEvent(agreement.ID, actor, enums.AgreementEventDeliveryConfirmed, agreement.Status, enums.AgreementStatusCompleted, nil)); err != nil {
				return err
			}
		}
		releaseEventType := enums.AgreementEventEscrowReleased
		if trigger == ReleaseTriggerAuto {
			releaseEventType = enums.AgreementEventAutoReleased
		}
		if err := repo.AppendEvent(ctx, s.plainEvent(agreement.ID, actor, releaseEventType, map[string]string{
			"trigger":  string(trigger),
			"earnings": agreement.CourierEarnings.StringFixed(2),
		})); err != nil {
			return err
		}

		if err := s.couriers.WithTx(tx).RecordDelivery(ctx, agreement.CourierID, agreement.CourierEarnings); err != nil {
			return err
		}
		if deliveryJustConfirmed {
			if err := s.packagesRepo.WithTx(tx).MarkDelivered(ctx, agreement.PackageID); err != nil {
				return err
			}
			if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventDeliveryConfirmed,
				AggregateType: enums.AggregateAgreement,
				AggregateID:   agreement.ID,
				Actor:         actor.ref(),
				Version:       1,
			}); err != nil {
				return err
			}
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowReleased,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreement.ID,
			Actor:         actor.ref(),
			Data: map[string]string{
				"trigger": string(trigger),
				"amount":  agreement.EscrowAmount.StringFixed(2),
			},
			Version: 1,
		})
	})
}

// refundHold runs the three-phase refund against the custodian. The caller
// commits the agreement-side bookkeeping afterwards.
func (s *service) refundHold(ctx context.Context, agreement *models.Agreement) error {
	var intent *models.EscrowIntent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var ensureErr error
		intent, ensureErr = s.intents.WithTx(tx).Ensure(ctx, agreement.ID, enums.EscrowOperationRefund, agreement.EscrowAmount)
		return ensureErr
	})
	if err != nil {
		return err
	}
	if intent.Status == enums.EscrowIntentStatusExecuted {
		return nil
	}

	err = s.callProvider(ctx, string(enums.EscrowOperationRefund), func(callCtx context.Context) error {
		_, callErr := s.provider.Refund(callCtx, RefundRequest{
			Reference:      *agreement.EscrowHoldRef,
			Amount:         agreement.EscrowAmount,
			Currency:       agreement.Currency,
			Reason:         "delivery cancelled",
			IdempotencyKey: intent.IdempotencyKey,
		})
		return callErr
	})
	if err != nil {
		s.recordIntentFailure(ctx, intent.ID, err)
		return err
	}
	return s.intents.MarkExecuted(ctx, intent.ID, agreement.EscrowHoldRef)
}

func (s *service) HandleDispute(ctx context.Context, agreementID uuid.UUID, input disputes.OpenDisputeInput) (*models.Dispute, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	agreement, err := s.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status == enums.AgreementStatusCompleted && agreement.EscrowReleasedAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow already released")
	}
	if err := agreements.Transition(agreement.Status, enums.AgreementStatusDisputed); err != nil {
		return nil, err
	}

	active, err := s.disputesRepo.FindActiveByAgreementID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "dispute already active")
	}

	dispute := &models.Dispute{
		AgreementID: agreementID,
		RaisedBy:    input.RaisedBy,
		RaisedRole:  input.RaisedRole,
		Type:        input.Type,
		Description: input.Description,
		Evidence:    input.Evidence,
		Status:      enums.DisputeStatusOpen,
	}
	actor := Actor{UserID: input.RaisedBy, Role: input.RaisedRole}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.disputesRepo.WithTx(tx).Create(ctx, dispute); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_disputes_agreement_active") {
				return pkgerrors.New(pkgerrors.CodeConflict, "dispute already active")
			}
			return err
		}
		repo := s.agreements.WithTx(tx)
		if err := repo.UpdateWithVersion(ctx, agreementID, agreement.Version, map[string]any{
			"status": enums.AgreementStatusDisputed,
		}); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreementID, actor, enums.AgreementEventDisputeOpened, agreement.Status, enums.AgreementStatusDisputed, map[string]string{
			"dispute_type": string(input.Type),
		})); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         actor.ref(),
			Data: map[string]string{
				"agreement_id": agreementID.String(),
				"type":         string(input.Type),
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"agreement_id": agreementID.String(),
		"dispute_id":   dispute.ID.String(),
	})
	s.logg.Info(logCtx, "dispute opened, escrow frozen")
	return dispute, nil
}

func (s *service) ResolveDispute(ctx context.Context, agreementID uuid.UUID, input ResolveDisputeInput) (*models.Agreement, error) {
	if input.Actor.Role != enums.ActorRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "arbiter role required")
	}
	if !input.Resolution.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid resolution")
	}
	if input.Resolution == enums.DisputeResolutionPartialSplit && input.Amount == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "split amount is required")
	}

	agreement, err := s.loadAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status != enums.AgreementStatusDisputed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "agreement not disputed")
	}

	dispute, err := s.disputesRepo.FindActiveByAgreementID(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	if dispute == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no active dispute")
	}
	if input.DisputeID != uuid.Nil && input.DisputeID != dispute.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute does not belong to agreement")
	}

	record := disputes.ResolutionRecord{
		Resolution: input.Resolution,
		ResolvedBy: input.Actor.UserID,
		Amount:     input.Amount,
		AdminNotes: input.Notes,
	}

	switch input.Resolution {
	case enums.DisputeResolutionReleaseToCourier:
		err = s.executeRelease(ctx, agreement, ReleaseTriggerAdmin, input.Actor, func(tx *gorm.DB) error {
			if err := s.disputesRepo.WithTx(tx).Resolve(ctx, dispute.ID, record); err != nil {
				return err
			}
			if err := s.agreements.WithTx(tx).AppendEvent(ctx, s.plainEvent(agreementID, input.Actor, enums.AgreementEventDisputeResolved, map[string]string{
				"resolution": string(input.Resolution),
			})); err != nil {
				return err
			}
			return s.emitDisputeResolved(ctx, tx, dispute.ID, agreementID, input)
		})
	case enums.DisputeResolutionRefundToSender:
		err = s.resolveWithRefund(ctx, agreement, dispute, record, input)
	case enums.DisputeResolutionPartialSplit:
		err = s.resolveWithManualSplit(ctx, agreement, dispute, record, input)
	}
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"agreement_id": agreementID.String(),
		"dispute_id":   dispute.ID.String(),
		"resolution":   string(input.Resolution),
	})
	s.logg.Info(logCtx, "dispute resolved")
	return s.loadAgreement(ctx, agreementID)
}

func (s *service) resolveWithRefund(ctx context.Context, agreement *models.Agreement, dispute *models.Dispute, record disputes.ResolutionRecord, input ResolveDisputeInput) error {
	if agreement.EscrowHoldRef == nil || agreement.EscrowHoldStatus != enums.EscrowHoldStatusHeld {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow hold not held")
	}
	if err := s.refundHold(ctx, agreement); err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.disputesRepo.WithTx(tx).Resolve(ctx, dispute.ID, record); err != nil {
			return err
		}
		repo := s.agreements.WithTx(tx)
		if err := repo.UpdateWithVersion(ctx, agreement.ID, agreement.Version, map[string]any{
			"status":             enums.AgreementStatusCancelled,
			"cancelled_at":       now,
			"cancel_reason":      "dispute resolved in sender's favor",
			"escrow_hold_status": enums.EscrowHoldStatusRefunded,
		}); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreement.ID, input.Actor, enums.AgreementEventDisputeResolved, agreement.Status, enums.AgreementStatusCancelled, map[string]string{
			"resolution": string(input.Resolution),
		})); err != nil {
			return err
		}
		if agreement.PickupConfirmedAt == nil {
			if err := s.packagesRepo.WithTx(tx).Unclaim(ctx, agreement.PackageID); err != nil {
				return err
			}
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowRefunded,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreement.ID,
			Actor:         input.Actor.ref(),
			Version:       1,
		}); err != nil {
			return err
		}
		return s.emitDisputeResolved(ctx, tx, dispute.ID, agreement.ID, input)
	})
}

// resolveWithManualSplit records the split and routes settlement to the ops
// queue. The hold moves to frozen; neither the auto release sweep nor an
// admin release may touch it after this.
func (s *service) resolveWithManualSplit(ctx context.Context, agreement *models.Agreement, dispute *models.Dispute, record disputes.ResolutionRecord, input ResolveDisputeInput) error {
	now := time.Now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.disputesRepo.WithTx(tx).Resolve(ctx, dispute.ID, record); err != nil {
			return err
		}
		repo := s.agreements.WithTx(tx)
		updates := map[string]any{
			"status":             enums.AgreementStatusCompleted,
			"escrow_hold_status": enums.EscrowHoldStatusFrozen,
		}
		if agreement.DeliveryConfirmedAt == nil {
			updates["delivery_confirmed_at"] = now
		}
		if err := repo.UpdateWithVersion(ctx, agreement.ID, agreement.Version, updates); err != nil {
			return err
		}
		if err := repo.AppendEvent(ctx, s.transitionEvent(agreement.ID, input.Actor, enums.AgreementEventDisputeResolved, agreement.Status, enums.AgreementStatusCompleted, map[string]string{
			"resolution": string(input.Resolution),
		})); err != nil {
			return err
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventManualSettlementNeeded,
			AggregateType: enums.AggregateAgreement,
			AggregateID:   agreement.ID,
			Actor:         input.Actor.ref(),
			Data: map[string]string{
				"dispute_id": dispute.ID.String(),
				"amount":     splitAmount(input),
			},
			Version: 1,
		}); err != nil {
			return err
		}
		return s.emitDisputeResolved(ctx, tx, dispute.ID, agreement.ID, input)
	})
}

func (s *service) emitDisputeResolved(ctx context.Context, tx *gorm.DB, disputeID, agreementID uuid.UUID, input ResolveDisputeInput) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDisputeResolved,
		AggregateType: enums.AggregateDispute,
		AggregateID:   disputeID,
		Actor:         input.Actor.ref(),
		Data: map[string]string{
			"agreement_id": agreementID.String(),
			"resolution":   string(input.Resolution),
		},
		Version: 1,
	})
}

func splitAmount(input ResolveDisputeInput) string {
	if input.Amount == nil {
		return ""
	}
	return input.Amount.StringFixed(2)
}

// recordIntentFailure bumps the intent's retry bookkeeping. The caller
// still returns the cause; a bookkeeping failure only gets logged.
func (s *service) recordIntentFailure(ctx context.Context, intentID uuid.UUID, cause error) {
	if markErr := s.intents.MarkFailed(ctx, intentID, cause); markErr != nil {
		s.logg.Error(ctx, "record intent failure", markErr)
	}
}

// ReconcileIntent settles one pending write-ahead row against the
// custodian's view. It is the crash-recovery path; steady state never
// reaches it.
func (s *service) ReconcileIntent(ctx context.Context, intent models.EscrowIntent) error {
	agreement, err := s.loadAgreement(ctx, intent.AgreementID)
	if err != nil {
		return err
	}

	switch intent.Operation {
	case enums.EscrowOperationHold:
		if agreement.EscrowHoldRef != nil {
			return s.intents.MarkExecuted(ctx, intent.ID, agreement.EscrowHoldRef)
		}
		return s.intents.MarkFailed(ctx, intent.ID, errors.New("hold reference never recorded"))

	case enums.EscrowOperationRelease:
		if agreement.EscrowReleasedAt != nil {
			return s.intents.MarkExecuted(ctx, intent.ID, agreement.EscrowHoldRef)
		}
		if agreement.EscrowHoldRef == nil {
			return s.intents.MarkFailed(ctx, intent.ID, errors.New("no hold reference"))
		}
		if agreement.Status == enums.AgreementStatusDisputed || agreement.EscrowHoldStatus == enums.EscrowHoldStatusFrozen {
			// Frozen; leave the intent pending for the arbiter's outcome.
			return nil
		}
		status, err := s.provider.StatusOf(ctx, *agreement.EscrowHoldRef)
		if err != nil {
			s.recordIntentFailure(ctx, intent.ID, err)
			return err
		}
		switch status {
		case enums.EscrowHoldStatusReleased, enums.EscrowHoldStatusHeld:
			// Either the capture landed and the local commit was lost, or
			// neither happened. executeRelease replays idempotently and
			// rebuilds the bookkeeping.
			if err := s.executeRelease(ctx, agreement, ReleaseTriggerAuto, systemActor, nil); err != nil {
				// executeRelease already recorded the attempt.
				return err
			}
			return nil
		default:
			return s.intents.MarkFailed(ctx, intent.ID, errors.New("hold in state "+status.String()))
		}

	case enums.EscrowOperationRefund:
		if agreement.EscrowHoldStatus == enums.EscrowHoldStatusRefunded {
			return s.intents.MarkExecuted(ctx, intent.ID, agreement.EscrowHoldRef)
		}
		if agreement.EscrowHoldRef == nil {
			return s.intents.MarkFailed(ctx, intent.ID, errors.New("no hold reference"))
		}
		status, err := s.provider.StatusOf(ctx, *agreement.EscrowHoldRef)
		if err != nil {
			s.recordIntentFailure(ctx, intent.ID, err)
			return err
		}
		if status == enums.EscrowHoldStatusRefunded {
			if err := s.agreements.UpdateWithVersion(ctx, agreement.ID, agreement.Version, map[string]any{
				"escrow_hold_status": enums.EscrowHoldStatusRefunded,
			}); err != nil {
				return err
			}
			return s.intents.MarkExecuted(ctx, intent.ID, agreement.EscrowHoldRef)
		}
		return s.intents.MarkFailed(ctx, intent.ID, errors.New("hold in state "+status.String()))
	}

	return s.intents.MarkFailed(ctx, intent.ID, errors.New("unknown operation"))
}
