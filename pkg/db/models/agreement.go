package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// Agreement governs one courier's custody and payment for one package, from
// acceptance to terminal state. The row is a materialized projection; the
// authoritative history lives in agreement_events.
type Agreement struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PackageID uuid.UUID `gorm:"column:package_id;type:uuid;not null;uniqueIndex:ux_agreements_package_active,where:status NOT IN ('cancelled')"`
	CourierID uuid.UUID `gorm:"column:courier_id;type:uuid;not null"`
	SenderID  uuid.UUID `gorm:"column:sender_id;type:uuid;not null"`

	AgreedPrice     decimal.Decimal `gorm:"column:agreed_price;type:numeric(12,2);not null"`
	PlatformFee     decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	EscrowAmount    decimal.Decimal `gorm:"column:escrow_amount;type:numeric(12,2);not null"`
	CourierEarnings decimal.Decimal `gorm:"column:courier_earnings;type:numeric(12,2);not null;default:0"`
	Currency        enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`

	Status enums.AgreementStatus `gorm:"column:status;type:agreement_status;not null;default:'pending_pickup'"`

	EscrowHoldRef    *string                `gorm:"column:escrow_hold_ref"`
	EscrowHoldStatus enums.EscrowHoldStatus `gorm:"column:escrow_hold_status;type:escrow_hold_status;not null;default:'pending'"`
	EscrowHeldAt     *time.Time             `gorm:"column:escrow_held_at"`
	EscrowReleasedAt *time.Time             `gorm:"column:escrow_released_at"`

	PickupConfirmedAt   *time.Time `gorm:"column:pickup_confirmed_at"`
	DeliveryConfirmedAt *time.Time `gorm:"column:delivery_confirmed_at"`
	CancelledAt         *time.Time `gorm:"column:cancelled_at"`
	CancelReason        *string    `gorm:"column:cancel_reason"`

	Version int `gorm:"column:version;not null;default:1"`

	Events   []AgreementEvent `gorm:"foreignKey:AgreementID;constraint:OnDelete:CASCADE"`
	Tokens   []QRToken        `gorm:"foreignKey:AgreementID;constraint:OnDelete:CASCADE"`
	Disputes []Dispute        `gorm:"foreignKey:AgreementID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
