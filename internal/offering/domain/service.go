package domain

import (
	"context"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
)

type RegisterRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Category          string `json:"category"`
	ContentHash       string `json:"content_hash"`
	PricePerUse       int64  `json:"price_per_use"`
	SubscriptionPrice int64  `json:"subscription_price"`
}

type UpdateRequest struct {
	ID                uint64 `json:"-"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	PricePerUse       int64  `json:"price_per_use"`
	SubscriptionPrice int64  `json:"subscription_price"`
}

type AddReviewRequest struct {
	OfferingID uint64 `json:"-"`
	Rating     int    `json:"rating"`
	Comment    string `json:"comment"`
}

// UsageCounter is the only registry capability the rental engine may mutate with.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, tx *ledgertx.Tx, id uint64) error
}

// Reader resolves an offering inside the caller's transaction.
type Reader interface {
	Lookup(ctx context.Context, tx *ledgertx.Tx, id uint64) (Offering, error)
}

type Service interface {
	UsageCounter
	Reader

	Register(ctx context.Context, req RegisterRequest) (uint64, error)
	Update(ctx context.Context, req UpdateRequest) error
	Activate(ctx context.Context, id uint64) error
	Deactivate(ctx context.Context, id uint64) error
	AddReview(ctx context.Context, req AddReviewRequest) error

	Get(ctx context.Context, id uint64) (Offering, error)
	ListByOwner(ctx context.Context, owner string) ([]Offering, error)
	ListByCategory(ctx context.Context, category string) ([]Offering, error)
	ListActive(ctx context.Context, offset, limit int) ([]Offering, error)
	CountTotal(ctx context.Context) (int64, error)
	ListReviews(ctx context.Context, id uint64) ([]Review, error)
}

var (
	ErrNotFound           = ledgererr.New(ledgererr.NotFound, "offering_not_found")
	ErrNotOwner           = ledgererr.New(ledgererr.Unauthorized, "not_offering_owner")
	ErrInvalidName        = ledgererr.New(ledgererr.InvalidInput, "invalid_name")
	ErrInvalidContentHash = ledgererr.New(ledgererr.InvalidInput, "invalid_content_hash")
	ErrInvalidPricing     = ledgererr.New(ledgererr.InvalidInput, "invalid_pricing")
	ErrInvalidRating      = ledgererr.New(ledgererr.InvalidInput, "invalid_rating")
	ErrInvalidWindow      = ledgererr.New(ledgererr.InvalidInput, "invalid_window")
	ErrOwnerReview        = ledgererr.New(ledgererr.Forbidden, "owner_cannot_review")
	ErrDuplicateReview    = ledgererr.New(ledgererr.Conflict, "duplicate_review")
)
