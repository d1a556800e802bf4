// Package domain contains the usage ledger models reported by compute providers.
package domain

import "time"

// UsageRecord is one job executed against a rental. Everything except the
// verification verdict is immutable once recorded.
type UsageRecord struct {
	ID              uint64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	RentalID        uint64     `gorm:"not null;index" json:"rental_id"`
	OfferingID      uint64     `gorm:"not null;index" json:"offering_id"`
	Renter          string     `gorm:"size:128;not null" json:"renter"`
	ComputeProvider string     `gorm:"size:128;not null;index" json:"compute_provider"`
	JobID           string     `gorm:"size:256;not null" json:"job_id"`
	ComputeTimeMs   int64      `gorm:"not null" json:"compute_time_ms"`
	ResourcesUsed   int64      `gorm:"not null" json:"resources_used"`
	InputHash       string     `gorm:"size:256" json:"input_hash"`
	OutputHash      string     `gorm:"size:256" json:"output_hash"`
	Digest          string     `gorm:"size:66;not null" json:"digest"`
	Verified        bool       `gorm:"not null;default:false" json:"verified"`
	ProofHash       string     `gorm:"size:256" json:"proof_hash,omitempty"`
	VerifiedBy      string     `gorm:"size:128" json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// ComputeProvider is an oracle allowed to report and verify usage.
type ComputeProvider struct {
	Address     string    `gorm:"primaryKey;size:128" json:"address"`
	EndpointURL string    `gorm:"type:text" json:"endpoint_url"`
	Registered  bool      `gorm:"not null" json:"registered"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (ComputeProvider) TableName() string { return "compute_providers" }

// AgentUsageStats aggregates every record of one offering.
type AgentUsageStats struct {
	TotalUsage         uint64 `json:"total_usage"`
	VerifiedUsage      uint64 `json:"verified_usage"`
	TotalComputeTime   int64  `json:"total_compute_time"`
	TotalResourcesUsed int64  `json:"total_resources_used"`
}
