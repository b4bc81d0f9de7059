package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// QRToken is a single-use, time-boxed proof-of-delivery token. At most one
// active token exists per agreement; generating a new one retires the prior.
type QRToken struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgreementID uuid.UUID           `gorm:"column:agreement_id;type:uuid;not null;index"`
	CourierID   uuid.UUID           `gorm:"column:courier_id;type:uuid;not null"`
	Token       string              `gorm:"column:token;not null;uniqueIndex"`
	Signature   string              `gorm:"column:signature;not null"`
	Status      enums.QRTokenStatus `gorm:"column:status;type:qr_token_status;not null;default:'active'"`
	ExpiresAt   time.Time           `gorm:"column:expires_at;not null"`

	ScannedBy *uuid.UUID `gorm:"column:scanned_by;type:uuid"`
	ScannedAt *time.Time `gorm:"column:scanned_at"`
	ScanLat   *float64   `gorm:"column:scan_lat"`
	ScanLng   *float64   `gorm:"column:scan_lng"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
