package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/parcelpeer-backend/pkg/db"
	"github.com/angelmondragon/parcelpeer-backend/pkg/db/models"
	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// IntentKey derives the custodian idempotency key for one operation on one
// agreement. The same operation always replays with the same key.
func IntentKey(agreementID uuid.UUID, operation enums.EscrowOperation) string {
	return agreementID.String() + ":" + string(operation)
}

// IntentRepository manages escrow_intents write-ahead rows.
type IntentRepository interface {
	WithTx(tx *gorm.DB) IntentRepository
	Ensure(ctx context.Context, agreementID uuid.UUID, operation enums.EscrowOperation, amount decimal.Decimal) (*models.EscrowIntent, error)
	FindByKey(ctx context.Context, key string) (*models.EscrowIntent, error)
	MarkExecuted(ctx context.Context, id uuid.UUID, holdRef *string) error
	MarkFailed(ctx context.Context, id uuid.UUID, callErr error) error
	MarkAbandoned(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.EscrowIntent, error)
	ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.EscrowIntent, error)
}

type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository builds an intent repository bound to the provided DB.
func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) WithTx(tx *gorm.DB) IntentRepository {
	if tx == nil {
		return r
	}
	return &intentRepository{db: tx}
}

// Ensure inserts the write-ahead row for the operation, or returns the
// existing one when a prior attempt already committed it. The unique key
// makes the row, like the custodian call it fronts, once per operation.
func (r *intentRepository) Ensure(ctx context.Context, agreementID uuid.UUID, operation enums.EscrowOperation, amount decimal.Decimal) (*models.EscrowIntent, error) {
	intent := &models.EscrowIntent{
		AgreementID:    agreementID,
		Operation:      operation,
		IdempotencyKey: IntentKey(agreementID, operation),
		Amount:         amount,
		Status:         enums.EscrowIntentStatusPending,
	}
	err := r.db.WithContext(ctx).Create(intent).Error
	if err == nil {
		return intent, nil
	}
	if dbpkg.IsUniqueViolation(err, "ux_escrow_intents_idempotency_key") {
		return r.FindByKey(ctx, intent.IdempotencyKey)
	}
	return nil, err
}

func (r *intentRepository) FindByKey(ctx context.Context, key string) (*models.EscrowIntent, error) {
	var intent models.EscrowIntent
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *intentRepository) MarkExecuted(ctx context.Context, id uuid.UUID, holdRef *string) error {
	return r.db.WithContext(ctx).
		Model(&models.EscrowIntent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      enums.EscrowIntentStatusExecuted,
			"hold_ref":    holdRef,
			"executed_at": time.Now().UTC(),
			"last_error":  nil,
		}).Error
}

func (r *intentRepository) MarkFailed(ctx context.Context, id uuid.UUID, callErr error) error {
	message := ""
	if callErr != nil {
		message = callErr.Error()
	}
	return r.db.WithContext(ctx).
		Model(&models.EscrowIntent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    message,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkAbandoned parks an intent that exhausted its retries. Operators work
// the backlog by hand from here.
func (r *intentRepository) MarkAbandoned(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.EscrowIntent{}).
		Where("id = ?", id).
		Update("status", enums.EscrowIntentStatusFailed).Error
}

// ListPending selects intents still awaiting custodian acknowledgment,
// oldest first, skipping ones retried past the attempt ceiling.
func (r *intentRepository) ListPending(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.EscrowIntent, error) {
	var intents []models.EscrowIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.EscrowIntentStatusPending).
		Where("created_at < ?", before).
		Where("attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

// ListExhausted selects pending intents that ran out of retries, however
// far past the ceiling their attempt count climbed.
func (r *intentRepository) ListExhausted(ctx context.Context, maxAttempts, limit int) ([]models.EscrowIntent, error) {
	var intents []models.EscrowIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.EscrowIntentStatusPending).
		Where("attempt_count >= ?", maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}
