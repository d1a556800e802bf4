package domain

import "time"

type Kind string

const (
	KindPayPerUse    Kind = "PAY_PER_USE"
	KindSubscription Kind = "SUBSCRIPTION"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Rental is an escrow-backed right to use one offering.
type Rental struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OfferingID   uint64     `gorm:"not null;index" json:"offering_id"`
	Owner        string     `gorm:"size:128;not null" json:"owner"`
	Renter       string     `gorm:"size:128;not null;index" json:"renter"`
	Kind         Kind       `gorm:"size:16;not null" json:"kind"`
	EscrowAmount int64      `gorm:"not null" json:"escrow_amount"`
	PricePerUse  int64      `gorm:"not null" json:"price_per_use"`
	MaxUsage     uint64     `gorm:"not null" json:"max_usage"`
	UsageCount   uint64     `gorm:"not null;default:0" json:"usage_count"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Status       Status     `gorm:"size:16;not null;index" json:"status"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

func (Rental) TableName() string { return "rentals" }

// Consumed is the escrow already earned by the owner through recorded uses.
func (r Rental) Consumed() int64 {
	if r.Kind != KindPayPerUse {
		return 0
	}
	return r.PricePerUse * int64(r.UsageCount)
}
