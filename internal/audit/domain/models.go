package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EntityOffering        = "offering"
	EntityRental          = "rental"
	EntityUsageRecord     = "usage_record"
	EntityComputeProvider = "compute_provider"
)

// Event is one append-only entry of the marketplace change log.
type Event struct {
	ID         snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EntityType string            `gorm:"size:32;not null;index:idx_audit_events_entity,priority:1" json:"entity_type"`
	EntityID   string            `gorm:"size:64;not null;index:idx_audit_events_entity,priority:2" json:"entity_id"`
	Action     string            `gorm:"size:64;not null" json:"action"`
	Actor      string            `gorm:"size:128" json:"actor,omitempty"`
	Payload    datatypes.JSONMap `gorm:"type:json" json:"payload"`
	RequestID  string            `gorm:"size:64" json:"request_id,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (Event) TableName() string { return "audit_events" }

type ListFilter struct {
	EntityType string
	EntityID   string
	AfterID    snowflake.ID
	Limit      int
}
