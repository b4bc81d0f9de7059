package agreements

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/parcelpeer-backend/pkg/errors"
)

func setupAgreementsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:agreements?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS agreements (
  id TEXT PRIMARY KEY DEFAULT (
    lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-4' ||
    substr(lower(hex(randomblob(2))),2) || '-' ||
    substr('89ab', abs(random()) % 4 + 1, 1) ||
    substr(lower(hex(randomblob(2))),2) || '-' || lower(hex(randomblob(6)))
  ),
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
);
CREATE TABLE IF NOT EXISTS agreement_events (
  id TEXT PRIMARY KEY DEFAULT (
    lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-4' ||
    substr(lower(hex(randomblob(2))),2) || '-' ||
    substr('89ab', abs(random()) % 4 + 1, 1) ||
    substr(lower(hex(randomblob(2))),2) || '-' || lower(hex(randomblob(6)))
  ),
  agreement_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  actor_user_id TEXT,
  actor_role TEXT NOT NULL DEFAULT 'system',
  data TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	require.NoError(t, db.Exec(`DELETE FROM agreement_events`).Error)
	require.NoError(t, db.Exec(`DELETE FROM agreements`).Error)
	return db
}

func newTestAgreement() *models.Agreement {
	price := decimal.NewFromInt(40)
	fee := decimal.NewFromInt(4)
	return &models.Agreement{
		PackageID:    uuid.New(),
		CourierID:    uuid.New(),
		SenderID:     uuid.New(),
		AgreedPrice:  price,
		PlatformFee:  fee,
		EscrowAmount: price,
		Currency:     enums.CurrencyUSD,
		Status:       enums.AgreementStatusPendingPickup,
	}
}

func TestRepositoryCreateAndFind(t *testing.T) {
	db := setupAgreementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agreement := newTestAgreement()
	require.NoError(t, repo.Create(ctx, agreement))
	require.NotEqual(t, uuid.Nil, agreement.ID)

	loaded, err := repo.FindByID(ctx, agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, agreement.PackageID, loaded.PackageID)
	assert.Equal(t, enums.AgreementStatusPendingPickup, loaded.Status)
	assert.Equal(t, 1, loaded.Version)
	assert.True(t, loaded.AgreedPrice.Equal(decimal.NewFromInt(40)))
}

func TestRepositoryFindActiveByPackageID(t *testing.T) {
	db := setupAgreementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agreement := newTestAgreement()
	require.NoError(t, repo.Create(ctx, agreement))

	found, err := repo.FindActiveByPackageID(ctx, agreement.PackageID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, agreement.ID, found.ID)

	none, err := repo.FindActiveByPackageID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)

	// Cancelled agreements no longer block the package.
	require.NoError(t, db.Model(&models.Agreement{}).
		Where("id = ?", agreement.ID).
		Update("status", enums.AgreementStatusCancelled).Error)
	none, err = repo.FindActiveByPackageID(ctx, agreement.PackageID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepositoryUpdateWithVersion(t *testing.T) {
	db := setupAgreementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agreement := newTestAgreement()
	require.NoError(t, repo.Create(ctx, agreement))

	now := time.Now().UTC()
	err := repo.UpdateWithVersion(ctx, agreement.ID, 1, map[string]any{
		"status":              enums.AgreementStatusInTransit,
		"pickup_confirmed_at": now,
	})
	require.NoError(t, err)

	loaded, err := repo.FindByID(ctx, agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusInTransit, loaded.Status)
	assert.Equal(t, 2, loaded.Version)
	require.NotNil(t, loaded.PickupConfirmedAt)

	// A stale version must lose.
	err = repo.UpdateWithVersion(ctx, agreement.ID, 1, map[string]any{
		"status": enums.AgreementStatusCompleted,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	loaded, err = repo.FindByID(ctx, agreement.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.AgreementStatusInTransit, loaded.Status)
	assert.Equal(t, 2, loaded.Version)
}

func TestRepositoryAppendAndListEvents(t *testing.T) {
	db := setupAgreementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agreement := newTestAgreement()
	require.NoError(t, repo.Create(ctx, agreement))

	actor := uuid.New()
	for _, eventType := range []enums.AgreementEventType{
		enums.AgreementEventCreated,
		enums.AgreementEventPickupConfirmed,
	} {
		require.NoError(t, repo.AppendEvent(ctx, &models.AgreementEvent{
			AgreementID: agreement.ID,
			EventType:   eventType,
			ActorUserID: &actor,
			ActorRole:   enums.ActorRoleCourier,
		}))
	}

	events, err := repo.ListEvents(ctx, agreement.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, enums.AgreementEventCreated, events[0].EventType)
	assert.Equal(t, enums.AgreementEventPickupConfirmed, events[1].EventType)
}

func TestRepositoryListAutoReleasable(t *testing.T) {
	db := setupAgreementsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	released := time.Now().UTC()

	eligible := newTestAgreement()
	eligible.Status = enums.AgreementStatusCompleted
	eligible.EscrowHoldStatus = enums.EscrowHoldStatusHeld
	eligible.DeliveryConfirmedAt = &old
	require.NoError(t, repo.Create(ctx, eligible))

	tooRecent := newTestAgreement()
	tooRecent.Status = enums.AgreementStatusCompleted
	tooRecent.EscrowHoldStatus = enums.EscrowHoldStatusHeld
	tooRecent.DeliveryConfirmedAt = &recent
	require.NoError(t, repo.Create(ctx, tooRecent))

	alreadyReleased := newTestAgreement()
	alreadyReleased.Status = enums.AgreementStatusCompleted
	alreadyReleased.EscrowHoldStatus = enums.EscrowHoldStatusReleased
	alreadyReleased.DeliveryConfirmedAt = &old
	alreadyReleased.EscrowReleasedAt = &released
	require.NoError(t, repo.Create(ctx, alreadyReleased))

	disputed := newTestAgreement()
	disputed.Status = enums.AgreementStatusDisputed
	disputed.EscrowHoldStatus = enums.EscrowHoldStatusHeld
	disputed.DeliveryConfirmedAt = &old
	require.NoError(t, repo.Create(ctx, disputed))

	// A frozen hold awaits manual settlement and never auto-releases.
	frozen := newTestAgreement()
	frozen.Status = enums.AgreementStatusCompleted
	frozen.EscrowHoldStatus = enums.EscrowHoldStatusFrozen
	frozen.DeliveryConfirmedAt = &old
	require.NoError(t, repo.Create(ctx, frozen))

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	batch, err := repo.ListAutoReleasable(ctx, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, eligible.ID, batch[0].ID)
}
