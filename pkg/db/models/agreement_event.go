package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/parcelpeer-backend/pkg/enums"
)

// AgreementEvent is one entry in an agreement's append-only audit log.
// Rows are only ever inserted, never updated or deleted.
type AgreementEvent struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgreementID uuid.UUID                `gorm:"column:agreement_id;type:uuid;not null;index"`
	EventType   enums.AgreementEventType `gorm:"column:event_type;type:agreement_event_type;not null"`
	ActorUserID *uuid.UUID               `gorm:"column:actor_user_id;type:uuid"`
	ActorRole   enums.ActorRole          `gorm:"column:actor_role;type:text;not null;default:'system'"`
	Data        json.RawMessage          `gorm:"column:data;type:jsonb"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
}
