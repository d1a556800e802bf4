package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
)

type RentPayPerUseRequest struct {
	OfferingID uint64 `json:"offering_id"`
	MaxUsage   int64  `json:"max_usage"`
	Payment    int64  `json:"payment"`
}

type RentSubscriptionRequest struct {
	OfferingID uint64        `json:"offering_id"`
	Duration   time.Duration `json:"-"`
	Payment    int64         `json:"payment"`
}

// Reader resolves a rental inside the caller's transaction.
type Reader interface {
	LookupRental(ctx context.Context, tx *ledgertx.Tx, id uint64) (Rental, error)
}

type Service interface {
	Reader

	RentPayPerUse(ctx context.Context, req RentPayPerUseRequest) (uint64, error)
	RentSubscription(ctx context.Context, req RentSubscriptionRequest) (uint64, error)
	UseAgent(ctx context.Context, rentalID uint64) error
	CancelRental(ctx context.Context, rentalID uint64) error
	CompleteRental(ctx context.Context, rentalID uint64) error

	GetRental(ctx context.Context, id uint64) (Rental, error)
	ListByRenter(ctx context.Context, renter string) ([]Rental, error)
}

var (
	ErrNotFound          = ledgererr.New(ledgererr.NotFound, "rental_not_found")
	ErrNotRenter         = ledgererr.New(ledgererr.Unauthorized, "not_renter")
	ErrNotParticipant    = ledgererr.New(ledgererr.Unauthorized, "not_rental_participant")
	ErrOfferingInactive  = ledgererr.New(ledgererr.Inactive, "offering_inactive")
	ErrInvalidMaxUsage   = ledgererr.New(ledgererr.InvalidInput, "invalid_max_usage")
	ErrInvalidDuration   = ledgererr.New(ledgererr.InvalidInput, "invalid_duration")
	ErrPricingNotOffered = ledgererr.New(ledgererr.InvalidInput, "pricing_not_offered")
	ErrAmountOverflow    = ledgererr.New(ledgererr.InvalidInput, "amount_overflow")
	ErrPaymentMismatch   = ledgererr.New(ledgererr.PaymentMismatch, "payment_mismatch")
	ErrNotActive         = ledgererr.New(ledgererr.InvalidState, "rental_not_active")
	ErrUsageExhausted    = ledgererr.New(ledgererr.InvalidState, "usage_exhausted")
	ErrNotExpired        = ledgererr.New(ledgererr.InvalidState, "subscription_not_expired")
	ErrNotSubscription   = ledgererr.New(ledgererr.InvalidState, "not_subscription")
	ErrExpired           = ledgererr.New(ledgererr.Expired, "subscription_expired")
)
