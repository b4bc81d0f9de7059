package disputes

import (
	"context"
	"testing"

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

func setupDisputesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:disputes?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `CREATE TABLE IF NOT EXISTS disputes (
  id TEXT PRIMARY KEY DEFAULT (
    lower(hex(randomblob(4))) || '-' || lower(hex(randomblob(2))) || '-4' ||
    substr(lower(hex(randomblob(2))),2) || '-' ||
    substr('89ab', abs(random()) % 4 + 1, 1) ||
    substr(lower(hex(randomblob(2))),2) || '-' || lower(hex(randomblob(6)))
  ),
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
)`
	require.NoError(t, db.Exec(ddl).Error)
	require.NoError(t, db.Exec("DELETE FROM disputes").Error)
	return db
}

func newTestDispute(agreementID uuid.UUID) *models.Dispute {
	return &models.Dispute{
		AgreementID: agreementID,
		RaisedBy:    uuid.New(),
		RaisedRole:  enums.ActorRoleSender,
		Type:        enums.DisputeTypeNotDelivered,
		Description: "courier never arrived",
		Evidence:    []string{"https://cdn.example.com/photo-1.jpg"},
		Status:      enums.DisputeStatusOpen,
	}
}

func TestCreateAndFindActive(t *testing.T) {
	db := setupDisputesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	agreementID := uuid.New()
	dispute := newTestDispute(agreementID)
	require.NoError(t, repo.Create(ctx, dispute))
	require.NotEqual(t, uuid.Nil, dispute.ID)

	active, err := repo.FindActiveByAgreementID(ctx, agreementID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, dispute.ID, active.ID)
	assert.Equal(t, []string{"https://cdn.example.com/photo-1.jpg"}, active.Evidence)

	none, err := repo.FindActiveByAgreementID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = repo.FindByID(ctx, uuid.New())
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestMarkUnderReviewIsGuarded(t *testing.T) {
	db := setupDisputesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	dispute := newTestDispute(uuid.New())
	require.NoError(t, repo.Create(ctx, dispute))

	require.NoError(t, repo.MarkUnderReview(ctx, dispute.ID))

	// A second admin loses the race.
	err := repo.MarkUnderReview(ctx, dispute.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	// Under review still counts as active.
	active, err := repo.FindActiveByAgreementID(ctx, dispute.AgreementID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, enums.DisputeStatusUnderReview, active.Status)
}

func TestResolveRecordsDisposition(t *testing.T) {
	db := setupDisputesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	dispute := newTestDispute(uuid.New())
	require.NoError(t, repo.Create(ctx, dispute))

	adminID := uuid.New()
	amount := decimal.NewFromInt(20)
	notes := "split agreed on call"
	require.NoError(t, repo.Resolve(ctx, dispute.ID, ResolutionRecord{
		Resolution: enums.DisputeResolutionPartialSplit,
		ResolvedBy: adminID,
		Amount:     &amount,
		AdminNotes: &notes,
	}))

	stored, err := repo.FindByID(ctx, dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, stored.Status)
	require.NotNil(t, stored.Resolution)
	assert.Equal(t, enums.DisputeResolutionPartialSplit, *stored.Resolution)
	require.NotNil(t, stored.ResolutionAmount)
	assert.True(t, stored.ResolutionAmount.Equal(amount))
	require.NotNil(t, stored.ResolvedBy)
	assert.Equal(t, adminID, *stored.ResolvedBy)
	require.NotNil(t, stored.ResolvedAt)

	// Resolved disputes are no longer active.
	active, err := repo.FindActiveByAgreementID(ctx, dispute.AgreementID)
	require.NoError(t, err)
	assert.Nil(t, active)

	// And cannot be resolved twice; the retry is a caller mistake.
	err = repo.Resolve(ctx, dispute.ID, ResolutionRecord{
		Resolution: enums.DisputeResolutionReleaseToCourier,
		ResolvedBy: adminID,
	})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestCloseWithoutResolution(t *testing.T) {
	db := setupDisputesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	dispute := newTestDispute(uuid.New())
	require.NoError(t, repo.Create(ctx, dispute))

	adminID := uuid.New()
	notes := "raised in error"
	require.NoError(t, repo.Close(ctx, dispute.ID, adminID, &notes))

	stored, err := repo.FindByID(ctx, dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusClosed, stored.Status)
	assert.Nil(t, stored.Resolution)
	require.NotNil(t, stored.AdminNotes)
	assert.Equal(t, notes, *stored.AdminNotes)

	err = repo.Close(ctx, dispute.ID, adminID, nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}
