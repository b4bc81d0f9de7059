package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// EscrowIntent is a write-ahead record for a custodian call. It is committed
// in the same transaction as the agreement change it belongs to; the
// reconcile job replays pending intents whose custodian call may never have
// been acknowledged. The idempotency key makes the replay safe.
type EscrowIntent struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgreementID    uuid.UUID                `gorm:"column:agreement_id;type:uuid;not null;index"`
	Operation      enums.EscrowOperation    `gorm:"column:operation;type:escrow_operation;not null"`
	IdempotencyKey string                   `gorm:"column:idempotency_key;not null;uniqueIndex:ux_escrow_intents_idempotency_key"`
	Amount         decimal.Decimal          `gorm:"column:amount;type:numeric(12,2);not null"`
	Status         enums.EscrowIntentStatus `gorm:"column:status;type:escrow_intent_status;not null;default:'pending'"`
	HoldRef        *string                  `gorm:"column:hold_ref"`
	LastError      *string                  `gorm:"column:last_error"`
	AttemptCount   int                      `gorm:"column:attempt_count;not null;default:0"`
	ExecutedAt     *time.Time               `gorm:"column:executed_at"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
