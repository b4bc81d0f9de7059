package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// Dispute records a contested agreement. At most one open-or-under-review
// dispute exists per agreement, enforced by the ux_disputes_agreement_active
// partial index.
type Dispute struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgreementID uuid.UUID           `gorm:"column:agreement_id;type:uuid;not null;index"`
	RaisedBy    uuid.UUID           `gorm:"column:raised_by;type:uuid;not null"`
	RaisedRole  enums.ActorRole     `gorm:"column:raised_role;type:text;not null"`
	Type        enums.DisputeType   `gorm:"column:type;type:dispute_type;not null"`
	Description string              `gorm:"column:description;not null"`
	Evidence    []string            `gorm:"column:evidence;type:jsonb;serializer:json"`
	Status      enums.DisputeStatus `gorm:"column:status;type:dispute_status;not null;default:'open'"`

	AdminNotes       *string                  `gorm:"column:admin_notes"`
	Resolution       *enums.DisputeResolution `gorm:"column:resolution;type:dispute_resolution"`
	ResolutionAmount *decimal.Decimal         `gorm:"column:resolution_amount;type:numeric(12,2)"`
	ResolvedBy       *uuid.UUID               `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt       *time.Time               `gorm:"column:resolved_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
