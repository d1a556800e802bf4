package domain

import "time"

// RatingScale is the fixed-point factor applied to Offering.Rating.
const RatingScale = 100

const (
	MinReviewRating = 1
	MaxReviewRating = 5
)

// Offering is a listed, rentable agent. Offerings are never deleted;
// deactivation is the soft delete.
type Offering struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Owner             string    `gorm:"size:128;not null;index" json:"owner"`
	Name              string    `gorm:"type:text;not null" json:"name"`
	Description       string    `gorm:"type:text" json:"description"`
	Category          string    `gorm:"size:128;index" json:"category"`
	// CategorySlug is a metrics label only; lookups match Category exactly.
	CategorySlug      string    `gorm:"size:128" json:"-"`
	ContentHash       string    `gorm:"size:256;not null" json:"content_hash"`
	PricePerUse       int64     `gorm:"not null" json:"price_per_use"`
	SubscriptionPrice int64     `gorm:"not null" json:"subscription_price"`
	Active            bool      `gorm:"not null;index" json:"active"`
	TotalUsage        uint64    `gorm:"not null;default:0" json:"total_usage"`
	Rating            uint64    `gorm:"not null;default:0" json:"rating"`
	ReviewCount       uint64    `gorm:"not null;default:0" json:"review_count"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

func (Offering) TableName() string { return "offerings" }

// Review is immutable once written; one per (offering, reviewer).
type Review struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OfferingID uint64    `gorm:"not null;uniqueIndex:ux_offering_reviews_reviewer,priority:1" json:"offering_id"`
	Reviewer   string    `gorm:"size:128;not null;uniqueIndex:ux_offering_reviews_reviewer,priority:2" json:"reviewer"`
	Rating     uint8     `gorm:"not null" json:"rating"`
	Comment    string    `gorm:"type:text" json:"comment"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (Review) TableName() string { return "offering_reviews" }

// ReviewStats is the aggregate used to recompute Offering.Rating.
type ReviewStats struct {
	Sum   uint64
	Count uint64
}

// ScaledRating returns floor(mean * RatingScale), or 0 with no reviews.
func (s ReviewStats) ScaledRating() uint64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum * RatingScale / s.Count
}
