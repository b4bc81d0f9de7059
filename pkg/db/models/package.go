package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// Package is the sender's posted parcel. The escrow subsystem references it
// for availability and the price offer; the full listing lives upstream.
type Package struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SenderID    uuid.UUID           `gorm:"column:sender_id;type:uuid;not null;index"`
	Description string              `gorm:"column:description;not null"`
	PriceOffer  decimal.Decimal     `gorm:"column:price_offer;type:numeric(12,2);not null"`
	Currency    enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status      enums.PackageStatus `gorm:"column:status;type:package_status;not null;default:'posted'"`
	ClaimedBy   *uuid.UUID          `gorm:"column:claimed_by;type:uuid"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
