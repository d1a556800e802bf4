package guard

import (
	"time"

	"github.com/smallbiznis/agentmarket/internal/rental/domain"
)

// EnsureUsable checks that one more use may be recorded against the rental at now.
func EnsureUsable(rental domain.Rental, now time.Time) error {
	if rental.Status != domain.StatusActive {
		return domain.ErrNotActive
	}
	switch rental.Kind {
	case domain.KindPayPerUse:
		if rental.UsageCount >= rental.MaxUsage {
			return domain.ErrUsageExhausted
		}
	case domain.KindSubscription:
		if Expired(rental, now) {
			return domain.ErrExpired
		}
	}
	return nil
}

// EnsureCanCancel checks the rental is still open for a refund.
func EnsureCanCancel(rental domain.Rental) error {
	if !isTransitionAllowed(rental.Status, domain.StatusCancelled) {
		return domain.ErrNotActive
	}
	return nil
}

// EnsureCanComplete checks a subscription has run past its expiry.
func EnsureCanComplete(rental domain.Rental, now time.Time) error {
	if !isTransitionAllowed(rental.Status, domain.StatusCompleted) {
		return domain.ErrNotActive
	}
	if rental.Kind != domain.KindSubscription {
		return domain.ErrNotSubscription
	}
	if !Expired(rental, now) {
		return domain.ErrNotExpired
	}
	return nil
}

// Expired reports whether a subscription is past its expiry. The expiry
// instant itself is still usable.
func Expired(rental domain.Rental, now time.Time) bool {
	return rental.ExpiresAt != nil && now.After(*rental.ExpiresAt)
}

func isTransitionAllowed(current, target domain.Status) bool {
	switch current {
	case domain.StatusActive:
		return target == domain.StatusCompleted || target == domain.StatusCancelled
	default:
		return false
	}
}
