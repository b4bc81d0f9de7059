package escrow

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/internal/agreements"
	"github.com/angelmondragon/parcelpeer-backend/internal/couriers"
	"github.com/angelmondragon/parcelpeer-backend/internal/disputes"
	"github.com/angelmondragon/parcelpeer-backend/internal/packages"
	"github.com/angelmondragon/parcelpeer-backend/internal/qr"
	"github.com/angelmondragon/parcelpeer-backend/pkg/config"
	dbpkg "github.com/angelmondragon/parcelpeer-backend/pkg/db"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
	"github.com/angelmondragon/parcelpeer-backend/pkg/logger"
	"github.com/angelmondragon/parcelpeer-backend/pkg/outbox"
)

const uuidDefault = `(
    lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-4' ||
    substr(lower(hex(randomblob(2))),2) || '-' ||
    substr('89ab', abs(random()) % 4 + 1, 1) ||
    substr(lower(hex(randomblob(2))),2) || '-' || lower(hex(randomblob(6)))
  )`

func setupEscrowTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:escrow?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS packages (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  sender_id TEXT NOT NULL,
  description TEXT NOT NULL,
  price_offer NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'posted',
  claimed_by TEXT,
  created_at DATETIME,
  updated_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS couriers (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  active INTEGER NOT NULL DEFAULT 1,
  delivery_count INTEGER NOT NULL DEFAULT 0,
  total_earnings NUMERIC NOT NULL DEFAULT 0,
  last_delivery_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS agreements (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  package_id TEXT NOT NULL,
  courier_id TEXT NOT NULL,
  sender_id TEXT NOT NULL,
  agreed_price NUMERIC NOT NULL,
  platform_fee NUMERIC NOT NULL,
  escrow_amount NUMERIC NOT NULL,
  courier_earnings NUMERIC NOT NULL DEFAULT 0,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'pending_pickup',
  escrow_hold_ref TEXT,
  escrow_hold_status TEXT NOT NULL DEFAULT 'pending',
  escrow_held_at DATETIME,
  escrow_released_at DATETIME,
  pickup_confirmed_at DATETIME,
  delivery_confirmed_at DATETIME,
  cancelled_at DATETIME,
  cancel_reason TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS agreement_events (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  agreement_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  actor_user_id TEXT,
  actor_role TEXT NOT NULL DEFAULT 'system',
  data TEXT,
  created_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS qr_tokens (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  agreement_id TEXT NOT NULL,
  courier_id TEXT NOT NULL,
  token TEXT NOT NULL UNIQUE,
  signature TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  expires_at DATETIME NOT NULL,
  scanned_by TEXT,
  scanned_at DATETIME,
  scan_lat REAL,
  scan_lng REAL,
  created_at DATETIME,
  updated_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS disputes (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  agreement_id TEXT NOT NULL,
  raised_by TEXT NOT NULL,
  raised_role TEXT NOT NULL,
  type TEXT NOT NULL,
  description TEXT NOT NULL,
  evidence TEXT,
  status TEXT NOT NULL DEFAULT 'open',
  admin_notes TEXT,
  resolution TEXT,
  resolution_amount NUMERIC,
  resolved_by TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS escrow_intents (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  agreement_id TEXT NOT NULL,
  operation TEXT NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  amount NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  hold_ref TEXT,
  last_error TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  executed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT ` + uuidDefault + `,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	for _, table := range []string{"outbox_events", "escrow_intents", "disputes", "qr_tokens", "agreement_events", "agreements", "couriers", "packages"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

type escrowFixture struct {
	db       *gorm.DB
	svc      Service
	provider *FakeProvider
	tokens   qr.Service
}

func newEscrowFixture(t *testing.T) *escrowFixture {
	t.Helper()

	db := setupEscrowTestDB(t)
	logg := logger.New(logger.Options{Output: io.Discard})
	client := dbpkg.NewWithConn(db)

	signer, err := qr.NewSigner("escrow-test-secret")
	require.NoError(t, err)
	tokens, err := qr.NewService(qr.ServiceParams{
		Repo:   qr.NewRepository(db),
		Signer: signer,
		TTL:    24 * time.Hour,
		Logger: logg,
	})
	require.NoError(t, err)

	provider := NewFakeProvider()
	svc, err := NewService(ServiceParams{
		Tx:         client,
		Agreements: agreements.NewRepository(db),
		Packages:   packages.NewRepository(db),
		Couriers:   couriers.NewRepository(db),
		Disputes:   disputes.NewRepository(db),
		Intents:    NewIntentRepository(db),
		Tokens:     tokens,
		Provider:   provider,
		Outbox:     outbox.NewService(outbox.NewRepository(db), logg),
		Config: config.EscrowConfig{
			PlatformFeePercent:  10,
			QRTokenTTL:          24 * time.Hour,
			AutoReleaseAfter:    24 * time.Hour,
			AutoReleaseBatch:    50,
			ProviderCallTimeout: 5 * time.Second,
		},
		Logger: logg,
	})
	require.NoError(t, err)

	return &escrowFixture{db: db, svc: svc, provider: provider, tokens: tokens}
}

func (f *escrowFixture) seedPackage(t *testing.T, price int64) *models.Package {
	t.Helper()
	pkg := &models.Package{
		SenderID:    uuid.New(),
		Description: "boxed ceramics",
		PriceOffer:  decimal.NewFromInt(price),
		Currency:    enums.CurrencyUSD,
		Status:      enums.PackageStatusPosted,
	}
	require.NoError(t, f.db.Create(pkg).Error)
	return pkg
}

func (f *escrowFixture) seedCourier(t *testing.T, active bool) *models.Courier {
	t.Helper()
	courier := &models.Courier{Active: active}
	require.NoError(t, f.db.Create(courier).Error)
	if !active {
		require.NoError(t, f.db.Model(courier).Update("active", false).Error)
	}
	return courier
}

func (f *escrowFixture) createAgreement(t *testing.T) *models.Agreement {
	t.Helper()
	pkg := f.seedPackage(t, 40)
	courier := f.seedCourier(t, true)
	agreement, err := f.svc.CreateAgreement(context.Background(), CreateAgreementInput{
		PackageID:       pkg.ID,
		CourierID:       courier.ID,
		PaymentSourceID: "ccof:test-card",
		Actor:           Actor{UserID: courier.ID, Role: enums.ActorRoleCourier},
	})
	require.NoError(t, err)
	return agreement
}

func (f *escrowFixture) activeToken(t *testing.T, agreementID uuid.UUID) *qr.TokenPayload {
	t.Helper()
	payload, err := f.tokens.ActivePayload(context.Background(), agreementID)
	require.NoError(t, err)
	return payload
}

func TestCreateAgreementOpensHold(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	pkg := f.seedPackage(t, 40)
	courier := f.seedCourier(t, true)

	agreement, err := f.svc.CreateAgreement(ctx, CreateAgreementInput{
		PackageID:       pkg.ID,
		CourierID:       courier.ID,
		PaymentSourceID: "ccof:test-card",
		Actor:           Actor{UserID: courier.ID, Role: enums.ActorRoleCourier},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.AgreementStatusPendingPickup, agreement.Status)
	assert.True(t, agreement.AgreedPrice.Equal(decimal.NewFromInt(40)))
	assert.True(t, agreement.PlatformFee.Equal(decimal.NewFromInt(4)))
	assert.True(t, agreement.CourierEarnings.Equal(decimal.NewFromInt(36)))
	assert.True(t, agreement.EscrowAmount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, enums.EscrowHoldStatusHeld, agreement.EscrowHoldStatus)
	require.NotNil(t, agreement.EscrowHoldRef)
	require.NotNil(t, agreement.EscrowHeldAt)

	var claimed models.Package
	require.NoError(t, f.db.First(&claimed, "id = ?", pkg.ID).Error)
	assert.Equal(t, enums.PackageStatusClaimed, claimed.Status)

	payload := f.activeToken(t, agreement.ID)
	assert.Equal(t, courier.ID, payload.CourierID)

	var intent models.EscrowIntent
	require.NoError(t, f.db.First(&intent, "idempotency_key = ?", IntentKey(agreement.ID, enums.EscrowOperationHold)).Error)
	assert.Equal(t, enums.EscrowIntentStatusExecuted, intent.Status)

	var outboxCount int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventAgreementCreated, agreement.ID).
		Count(&outboxCount).Error)
	assert.Equal(t, int64(1), outboxCount)
}

func TestCreateAgreementPreconditions(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	pkg := f.seedPackage(t, 40)
	courier := f.seedCourier(t, true)

	_, err := f.svc.CreateAgreement(ctx, CreateAgreementInput{
		PackageID:       pkg.ID,
		CourierID:       courier.ID,
		PaymentSourceID: "ccof:test-card",
		Actor:           Actor{UserID: courier.ID, Role: enums.ActorRoleCourier},
	})
	require.NoError(t, err)

	// Second agreement for the same package.
	_, err = f.svc.CreateAgreement(ctx, CreateAgreementInput{
		PackageID:       pkg.ID,
		CourierID:       f.seedCourier(t, true).ID,
		PaymentSourceID: "ccof:test-card",
		Actor:           Actor{Role: enums.ActorRoleCourier},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	// Inactive courier.
	_, err = f.svc.CreateAgreement(ctx, CreateAgreementInput{
		PackageID:       f.seedPackage(t, 20).ID,
		CourierID:       f.seedCourier(t, false).ID,
		PaymentSourceID: "ccof:test-card",
		Actor:           Actor{Role: enums.ActorRoleCourier},
	})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeForbidden, typed.Code())

	// Missing payment source.
	_, err = f.svc.CreateAgreement(ctx, CreateAgreementInput{
		PackageID: f.seedPackage(t, 20).ID,
		CourierID: courier.ID,
	})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestScanFlowReleasesEscrow(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)

	payload := f.activeToken(t, agreement.ID)
	sender := agreement.SenderID

	completed, err := f.svc.CompleteDeliveryByScan(ctx, ScanInput{
		Token: payload.Token,
		Actor: Actor{UserID: sender, Role: enums.ActorRoleSender},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.AgreementStatusCompleted, completed.Status)
	assert.Equal(t, enums.EscrowHoldStatusReleased, completed.EscrowHoldStatus)
	require.NotNil(t, completed.DeliveryConfirmedAt)
	require.NotNil(t, completed.EscrowReleasedAt)

	status, err := f.provider.StatusOf(ctx, *completed.EscrowHoldRef)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowHoldStatusReleased, status)

	var courier models.Courier
	require.NoError(t, f.db.First(&courier, "id = ?", agreement.CourierID).Error)
	assert.Equal(t, 1, courier.DeliveryCount)
	assert.True(t, courier.TotalEarnings.Equal(decimal.NewFromInt(36)))

	var pkg models.Package
	require.NoError(t, f.db.First(&pkg, "id = ?", agreement.PackageID).Error)
	assert.Equal(t, enums.PackageStatusDelivered, pkg.Status)

	// The token is spent; a replay fails.
	_, err = f.svc.CompleteDeliveryByScan(ctx, ScanInput{
		Token: payload.Token,
		Actor: Actor{UserID: sender, Role: enums.ActorRoleSender},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())
}

func TestScanReleaseFailureLeavesAgreementUnchanged(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	payload := f.activeToken(t, agreement.ID)

	f.provider.FailWith("release", pkgerrors.New(pkgerrors.CodeDependency, "custodian down"))
	_, err = f.svc.CompleteDeliveryByScan(ctx, ScanInput{
		Token: payload.Token,
		Actor: Actor{UserID: agreement.SenderID, Role: enums.ActorRoleSender},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())

	var reloaded models.Agreement
	require.NoError(t, f.db.First(&reloaded, "id = ?", agreement.ID).Error)
	assert.Equal(t, enums.AgreementStatusInTransit, reloaded.Status)
	assert.Nil(t, reloaded.EscrowReleasedAt)

	var intent models.EscrowIntent
	require.NoError(t, f.db.First(&intent, "idempotency_key = ?", IntentKey(agreement.ID, enums.EscrowOperationRelease)).Error)
	assert.Equal(t, enums.EscrowIntentStatusPending, intent.Status)
	assert.Equal(t, 1, intent.AttemptCount)

	// Token is still active, so a retry succeeds end to end.
	completed, err := f.svc.CompleteDeliveryByScan(ctx, ScanInput{
		Token: payload.Token,
		Actor: Actor{UserID: agreement.SenderID, Role: enums.ActorRoleSender},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusCompleted, completed.Status)
}

func TestManualConfirmDefersRelease(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)

	confirmed, err := f.svc.ConfirmDeliveryManual(ctx, agreement.ID, Actor{UserID: agreement.SenderID, Role: enums.ActorRoleSender})
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.DeliveryConfirmedAt)
	assert.Nil(t, confirmed.EscrowReleasedAt)
	assert.Equal(t, enums.EscrowHoldStatusHeld, confirmed.EscrowHoldStatus)

	// The grace-window sweep finalizes the payment.
	released, err := f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAuto, Actor{Role: enums.ActorRoleSystem})
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowHoldStatusReleased, released.EscrowHoldStatus)
	require.NotNil(t, released.EscrowReleasedAt)

	// Idempotent by the unreleased guard.
	again, err := f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAuto, Actor{Role: enums.ActorRoleSystem})
	require.NoError(t, err)
	assert.Equal(t, released.EscrowReleasedAt.Unix(), again.EscrowReleasedAt.Unix())
	assert.Equal(t, 1, f.provider.CallCount("release:"))
}

func TestDisputeFreezesRelease(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)

	dispute, err := f.svc.HandleDispute(ctx, agreement.ID, disputes.OpenDisputeInput{
		RaisedBy:    agreement.SenderID,
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeDamagedParcel,
		Description: "box arrived crushed",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, dispute.Status)

	// Release is blocked while disputed.
	_, err = f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAuto, Actor{Role: enums.ActorRoleSystem})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// So is a second dispute.
	_, err = f.svc.HandleDispute(ctx, agreement.ID, disputes.OpenDisputeInput{
		RaisedBy:    agreement.SenderID,
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeOther,
		Description: "duplicate",
	})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeConflict, typed.Code())

	admin := Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	resolved, err := f.svc.ResolveDispute(ctx, agreement.ID, ResolveDisputeInput{
		Resolution: enums.DisputeResolutionReleaseToCourier,
		Actor:      admin,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusCompleted, resolved.Status)
	assert.Equal(t, enums.EscrowHoldStatusReleased, resolved.EscrowHoldStatus)

	var storedDispute models.Dispute
	require.NoError(t, f.db.First(&storedDispute, "id = ?", dispute.ID).Error)
	assert.Equal(t, enums.DisputeStatusResolved, storedDispute.Status)
	require.NotNil(t, storedDispute.Resolution)
	assert.Equal(t, enums.DisputeResolutionReleaseToCourier, *storedDispute.Resolution)
}

func TestResolveDisputeRefundReopensPackage(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)

	// Pre-pickup dispute.
	_, err := f.svc.HandleDispute(ctx, agreement.ID, disputes.OpenDisputeInput{
		RaisedBy:    agreement.SenderID,
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeOther,
		Description: "courier unresponsive before pickup",
	})
	require.NoError(t, err)

	resolved, err := f.svc.ResolveDispute(ctx, agreement.ID, ResolveDisputeInput{
		Resolution: enums.DisputeResolutionRefundToSender,
		Actor:      Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusCancelled, resolved.Status)
	assert.Equal(t, enums.EscrowHoldStatusRefunded, resolved.EscrowHoldStatus)

	var pkg models.Package
	require.NoError(t, f.db.First(&pkg, "id = ?", agreement.PackageID).Error)
	assert.Equal(t, enums.PackageStatusPosted, pkg.Status)

	status, err := f.provider.StatusOf(ctx, *agreement.EscrowHoldRef)
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowHoldStatusRefunded, status)
}

func TestResolveDisputePartialSplitRoutesToOps(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	_, err = f.svc.HandleDispute(ctx, agreement.ID, disputes.OpenDisputeInput{
		RaisedBy:    agreement.SenderID,
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeDamagedParcel,
		Description: "partial damage",
	})
	require.NoError(t, err)

	// Amount is mandatory for a split.
	_, err = f.svc.ResolveDispute(ctx, agreement.ID, ResolveDisputeInput{
		Resolution: enums.DisputeResolutionPartialSplit,
		Actor:      Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	split := decimal.NewFromInt(20)
	resolved, err := f.svc.ResolveDispute(ctx, agreement.ID, ResolveDisputeInput{
		Resolution: enums.DisputeResolutionPartialSplit,
		Amount:     &split,
		Actor:      Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusCompleted, resolved.Status)

	// Funds stay frozen; settlement goes to the ops queue.
	assert.Equal(t, enums.EscrowHoldStatusFrozen, resolved.EscrowHoldStatus)
	assert.Nil(t, resolved.EscrowReleasedAt)

	var outboxCount int64
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventManualSettlementNeeded, agreement.ID).
		Count(&outboxCount).Error)
	assert.Equal(t, int64(1), outboxCount)
	assert.Equal(t, 0, f.provider.CallCount("release:"))
	assert.Equal(t, 0, f.provider.CallCount("refund:"))
}

func TestCancelBeforePickupRefundsAndReopens(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	cancelled, err := f.svc.CancelDelivery(ctx, agreement.ID, "courier withdrew", Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)

	assert.Equal(t, enums.AgreementStatusCancelled, cancelled.Status)
	assert.Equal(t, enums.EscrowHoldStatusRefunded, cancelled.EscrowHoldStatus)
	require.NotNil(t, cancelled.CancelledAt)

	var pkg models.Package
	require.NoError(t, f.db.First(&pkg, "id = ?", agreement.PackageID).Error)
	assert.Equal(t, enums.PackageStatusPosted, pkg.Status)

	// Cancelling a completed agreement is rejected.
	other := f.createAgreement(t)
	_, err = f.svc.ConfirmPickup(ctx, other.ID, Actor{UserID: other.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	payload := f.activeToken(t, other.ID)
	_, err = f.svc.CompleteDeliveryByScan(ctx, ScanInput{Token: payload.Token, Actor: Actor{UserID: other.SenderID, Role: enums.ActorRoleSender}})
	require.NoError(t, err)
	_, err = f.svc.CancelDelivery(ctx, other.ID, "too late", Actor{UserID: other.SenderID, Role: enums.ActorRoleSender})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestReconcilePendingReleaseIntent(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	_, err = f.svc.ConfirmDeliveryManual(ctx, agreement.ID, Actor{UserID: agreement.SenderID, Role: enums.ActorRoleSender})
	require.NoError(t, err)

	// Simulate a crash after the write-ahead commit: the intent exists but
	// the custodian call and bookkeeping never happened.
	intents := NewIntentRepository(f.db)
	intent, err := intents.Ensure(ctx, agreement.ID, enums.EscrowOperationRelease, agreement.EscrowAmount)
	require.NoError(t, err)

	require.NoError(t, f.svc.ReconcileIntent(ctx, *intent))

	var reloaded models.Agreement
	require.NoError(t, f.db.First(&reloaded, "id = ?", agreement.ID).Error)
	assert.Equal(t, enums.EscrowHoldStatusReleased, reloaded.EscrowHoldStatus)
	require.NotNil(t, reloaded.EscrowReleasedAt)

	var stored models.EscrowIntent
	require.NoError(t, f.db.First(&stored, "id = ?", intent.ID).Error)
	assert.Equal(t, enums.EscrowIntentStatusExecuted, stored.Status)
}

func TestPartialSplitHoldSurvivesAutoReleaseSweep(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	_, err = f.svc.HandleDispute(ctx, agreement.ID, disputes.OpenDisputeInput{
		RaisedBy:    agreement.SenderID,
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeDamagedParcel,
		Description: "arrived with a cracked lid",
	})
	require.NoError(t, err)

	split := decimal.NewFromInt(15)
	_, err = f.svc.ResolveDispute(ctx, agreement.ID, ResolveDisputeInput{
		Resolution: enums.DisputeResolutionPartialSplit,
		Amount:     &split,
		Actor:      Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
	})
	require.NoError(t, err)

	// Age the agreement past the auto release window.
	stale := time.Now().UTC().Add(-25 * time.Hour)
	require.NoError(t, f.db.Model(&models.Agreement{}).
		Where("id = ?", agreement.ID).
		Update("delivery_confirmed_at", stale).Error)

	// The sweep must not pick it up.
	due, err := agreements.NewRepository(f.db).ListAutoReleasable(ctx, time.Now().UTC().Add(-24*time.Hour), 50)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Neither the sweep's trigger nor an admin may move frozen funds.
	_, err = f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAuto, Actor{Role: enums.ActorRoleSystem})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	_, err = f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAdmin, Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	assert.Equal(t, 0, f.provider.CallCount("release:"))
}

func TestAdminReleaseAfterDisputeClosedWithoutResolution(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	dispute, err := f.svc.HandleDispute(ctx, agreement.ID, disputes.OpenDisputeInput{
		RaisedBy:    agreement.SenderID,
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeOther,
		Description: "sender withdrew the complaint",
	})
	require.NoError(t, err)

	admin := Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	// A live dispute blocks even the admin.
	_, err = f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAdmin, admin)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	require.NoError(t, disputes.NewRepository(f.db).Close(ctx, dispute.ID, admin.UserID, nil))

	// Closed without a resolution, the agreement stays disputed and the
	// sweep keeps its hands off.
	_, err = f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAuto, Actor{Role: enums.ActorRoleSystem})
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// An admin can unblock it.
	released, err := f.svc.ReleaseEscrow(ctx, agreement.ID, ReleaseTriggerAdmin, admin)
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusCompleted, released.Status)
	assert.Equal(t, enums.EscrowHoldStatusReleased, released.EscrowHoldStatus)
	require.NotNil(t, released.EscrowReleasedAt)
	assert.Equal(t, 1, f.provider.CallCount("release:"))
}

func TestReconcileSurfacesCustodianFailure(t *testing.T) {
	f := newEscrowFixture(t)
	ctx := context.Background()

	agreement := f.createAgreement(t)
	_, err := f.svc.ConfirmPickup(ctx, agreement.ID, Actor{UserID: agreement.CourierID, Role: enums.ActorRoleCourier})
	require.NoError(t, err)
	_, err = f.svc.ConfirmDeliveryManual(ctx, agreement.ID, Actor{UserID: agreement.SenderID, Role: enums.ActorRoleSender})
	require.NoError(t, err)

	intents := NewIntentRepository(f.db)
	intent, err := intents.Ensure(ctx, agreement.ID, enums.EscrowOperationRelease, agreement.EscrowAmount)
	require.NoError(t, err)

	f.provider.FailWith("release", pkgerrors.New(pkgerrors.CodeDependency, "custodian down"))
	err = f.svc.ReconcileIntent(ctx, *intent)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())

	// The failure is bookkept but the intent stays pending for the next sweep.
	var stored models.EscrowIntent
	require.NoError(t, f.db.First(&stored, "id = ?", intent.ID).Error)
	assert.Equal(t, enums.EscrowIntentStatusPending, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
}
