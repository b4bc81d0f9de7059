package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Courier is the projection of a courier profile the escrow subsystem needs:
// eligibility plus running delivery stats.
type Courier struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Active         bool            `gorm:"column:active;not null;default:true"`
	DeliveryCount  int             `gorm:"column:delivery_count;not null;default:0"`
	TotalEarnings  decimal.Decimal `gorm:"column:total_earnings;type:numeric(14,2);not null;default:0"`
	LastDeliveryAt *time.Time      `gorm:"column:last_delivery_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
