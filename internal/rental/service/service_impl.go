package service

import (
	"context"
	"math"
	"math/bits"
	"strconv"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/rental/guard"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sequenceName = "rentals"

type ServiceParam struct {
	fx.In

	Runner     *ledgertx.Runner
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       rentaldomain.Repository
	Offerings  offeringdomain.Reader
	Counter    offeringdomain.UsageCounter
	Escrow     *escrow.Service
	Transferer settlement.Transferer
	Audit      auditdomain.Sink
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	runner     *ledgertx.Runner
	log        *zap.Logger
	clock      clock.Clock
	repo       rentaldomain.Repository
	offerings  offeringdomain.Reader
	counter    offeringdomain.UsageCounter
	escrow     *escrow.Service
	transferer settlement.Transferer
	audit      auditdomain.Sink
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) rentaldomain.Service {
	return &Service{
		runner:     p.Runner,
		log:        p.Log.Named("rental.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		offerings:  p.Offerings,
		counter:    p.Counter,
		escrow:     p.Escrow,
		transferer: p.Transferer,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RentPayPerUse(ctx context.Context, req rentaldomain.RentPayPerUseRequest) (uint64, error) {
	renter, err := callerctx.Require(ctx)
	if err != nil {
		return 0, err
	}
	if req.MaxUsage <= 0 {
		return 0, rentaldomain.ErrInvalidMaxUsage
	}

	var id uint64
	err = s.runner.Run(ctx, "rental.rent_pay_per_use", func(tx *ledgertx.Tx) error {
		offering, err := s.loadRentable(ctx, tx, req.OfferingID)
		if err != nil {
			return err
		}
		if offering.PricePerUse == 0 {
			return rentaldomain.ErrPricingNotOffered
		}

		expected, err := mulAmount(offering.PricePerUse, req.MaxUsage)
		if err != nil {
			return err
		}
		if req.Payment != expected {
			return rentaldomain.ErrPaymentMismatch
		}

		now := s.clock.Now()
		rental := rentaldomain.Rental{
			OfferingID:   offering.ID,
			Owner:        offering.Owner,
			Renter:       renter,
			Kind:         rentaldomain.KindPayPerUse,
			EscrowAmount: expected,
			PricePerUse:  offering.PricePerUse,
			MaxUsage:     uint64(req.MaxUsage),
			Status:       rentaldomain.StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.create(ctx, tx, &rental); err != nil {
			return err
		}
		id = rental.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Service) RentSubscription(ctx context.Context, req rentaldomain.RentSubscriptionRequest) (uint64, error) {
	renter, err := callerctx.Require(ctx)
	if err != nil {
		return 0, err
	}
	if req.Duration <= 0 {
		return 0, rentaldomain.ErrInvalidDuration
	}

	var id uint64
	err = s.runner.Run(ctx, "rental.rent_subscription", func(tx *ledgertx.Tx) error {
		offering, err := s.loadRentable(ctx, tx, req.OfferingID)
		if err != nil {
			return err
		}
		if offering.SubscriptionPrice == 0 {
			return rentaldomain.ErrPricingNotOffered
		}
		if req.Payment != offering.SubscriptionPrice {
			return rentaldomain.ErrPaymentMismatch
		}

		now := s.clock.Now()
		expiresAt := now.Add(req.Duration)
		rental := rentaldomain.Rental{
			OfferingID:   offering.ID,
			Owner:        offering.Owner,
			Renter:       renter,
			Kind:         rentaldomain.KindSubscription,
			EscrowAmount: offering.SubscriptionPrice,
			ExpiresAt:    &expiresAt,
			Status:       rentaldomain.StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.create(ctx, tx, &rental); err != nil {
			return err
		}
		id = rental.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UseAgent records one use. Rental state and escrow bookkeeping are written
// before the payout is handed to the Transferer.
func (s *Service) UseAgent(ctx context.Context, rentalID uint64) error {
	caller, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}

	return s.runner.Run(ctx, "rental.use_agent", func(tx *ledgertx.Tx) error {
		rental, err := s.load(ctx, tx, rentalID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := guard.EnsureUsable(*rental, now); err != nil {
			return err
		}

		rental.UsageCount++
		if rental.Kind == rentaldomain.KindPayPerUse && rental.UsageCount == rental.MaxUsage {
			rental.Status = rentaldomain.StatusCompleted
		}
		rental.UpdatedAt = now
		if err := s.repo.Update(ctx, tx.DB, rental); err != nil {
			return err
		}
		if err := s.counter.IncrementUsage(ctx, tx, rental.OfferingID); err != nil {
			return err
		}

		var payouts []escrow.Payout
		if rental.Kind == rentaldomain.KindPayPerUse {
			payouts, err = s.escrow.Release(ctx, tx, rental.ID, rental.PricePerUse)
			if err != nil {
				return err
			}
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityRental,
			EntityID:   strconv.FormatUint(rental.ID, 10),
			Action:     "rental.used",
			Payload: map[string]any{
				"id":          rental.ID,
				"offering_id": rental.OfferingID,
				"caller":      caller,
				"usage_count": rental.UsageCount,
				"status":      string(rental.Status),
				"released":    strconv.FormatInt(sumPayouts(payouts), 10),
			},
		}); err != nil {
			return err
		}

		if err := s.transferer.Transfer(ctx, tx, payouts...); err != nil {
			return err
		}

		kind := string(rental.Kind)
		tx.AfterCommit(func() { s.obsMetrics.RecordAgentUse(ctx, kind) })
		return nil
	})
}

func (s *Service) CancelRental(ctx context.Context, rentalID uint64) error {
	caller, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}

	return s.runner.Run(ctx, "rental.cancel", func(tx *ledgertx.Tx) error {
		rental, err := s.load(ctx, tx, rentalID)
		if err != nil {
			return err
		}
		if rental.Renter != caller {
			return rentaldomain.ErrNotRenter
		}
		if err := guard.EnsureCanCancel(*rental); err != nil {
			return err
		}

		now := s.clock.Now()
		refund, release := cancellationSplit(*rental, now)

		rental.Status = rentaldomain.StatusCancelled
		rental.UpdatedAt = now
		if err := s.repo.Update(ctx, tx.DB, rental); err != nil {
			return err
		}

		refunds, err := s.escrow.Refund(ctx, tx, rental.ID, refund)
		if err != nil {
			return err
		}
		releases, err := s.escrow.Release(ctx, tx, rental.ID, release)
		if err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityRental,
			EntityID:   strconv.FormatUint(rental.ID, 10),
			Action:     "rental.cancelled",
			Payload: map[string]any{
				"id":          rental.ID,
				"renter":      rental.Renter,
				"usage_count": rental.UsageCount,
				"refunded":    strconv.FormatInt(refund, 10),
				"released":    strconv.FormatInt(release, 10),
			},
		}); err != nil {
			return err
		}

		return s.transferer.Transfer(ctx, tx, append(refunds, releases...)...)
	})
}

// CompleteRental closes an expired subscription and releases what is left in
// escrow to the owner.
func (s *Service) CompleteRental(ctx context.Context, rentalID uint64) error {
	caller, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}

	return s.runner.Run(ctx, "rental.complete", func(tx *ledgertx.Tx) error {
		rental, err := s.load(ctx, tx, rentalID)
		if err != nil {
			return err
		}
		if caller != rental.Renter && caller != rental.Owner {
			return rentaldomain.ErrNotParticipant
		}
		now := s.clock.Now()
		if err := guard.EnsureCanComplete(*rental, now); err != nil {
			return err
		}

		rental.Status = rentaldomain.StatusCompleted
		rental.UpdatedAt = now
		if err := s.repo.Update(ctx, tx.DB, rental); err != nil {
			return err
		}

		account, err := s.escrow.Lookup(ctx, tx, rental.ID)
		if err != nil {
			return err
		}
		remaining := account.Available()
		payouts, err := s.escrow.Release(ctx, tx, rental.ID, remaining)
		if err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityRental,
			EntityID:   strconv.FormatUint(rental.ID, 10),
			Action:     "rental.completed",
			Payload: map[string]any{
				"id":       rental.ID,
				"released": strconv.FormatInt(remaining, 10),
			},
		}); err != nil {
			return err
		}

		return s.transferer.Transfer(ctx, tx, payouts...)
	})
}

func (s *Service) LookupRental(ctx context.Context, tx *ledgertx.Tx, id uint64) (rentaldomain.Rental, error) {
	rental, err := s.load(ctx, tx, id)
	if err != nil {
		return rentaldomain.Rental{}, err
	}
	return *rental, nil
}

func (s *Service) GetRental(ctx context.Context, id uint64) (rentaldomain.Rental, error) {
	rental, err := s.repo.FindByID(ctx, s.runner.DB(), id)
	if err != nil {
		return rentaldomain.Rental{}, err
	}
	if rental == nil {
		return rentaldomain.Rental{}, rentaldomain.ErrNotFound
	}
	return *rental, nil
}

func (s *Service) ListByRenter(ctx context.Context, renter string) ([]rentaldomain.Rental, error) {
	return s.repo.ListByRenter(ctx, s.runner.DB(), callerctx.Normalize(renter))
}

func (s *Service) loadRentable(ctx context.Context, tx *ledgertx.Tx, offeringID uint64) (offeringdomain.Offering, error) {
	offering, err := s.offerings.Lookup(ctx, tx, offeringID)
	if err != nil {
		return offeringdomain.Offering{}, err
	}
	if !offering.Active {
		return offeringdomain.Offering{}, rentaldomain.ErrOfferingInactive
	}
	return offering, nil
}

func (s *Service) load(ctx context.Context, tx *ledgertx.Tx, id uint64) (*rentaldomain.Rental, error) {
	rental, err := s.repo.FindByID(ctx, tx.DB, id)
	if err != nil {
		return nil, err
	}
	if rental == nil {
		return nil, rentaldomain.ErrNotFound
	}
	return rental, nil
}

// create assigns the next id, writes the rental and locks its escrow.
func (s *Service) create(ctx context.Context, tx *ledgertx.Tx, rental *rentaldomain.Rental) error {
	id, err := ledgertx.NextID(ctx, tx, sequenceName)
	if err != nil {
		return err
	}
	rental.ID = id
	if err := s.repo.Insert(ctx, tx.DB, rental); err != nil {
		return err
	}

	if err := s.escrow.Lock(ctx, tx, escrow.LockRequest{
		RentalID:    rental.ID,
		Renter:      rental.Renter,
		Beneficiary: rental.Owner,
		Amount:      rental.EscrowAmount,
	}); err != nil {
		return err
	}

	payload := map[string]any{
		"id":          rental.ID,
		"offering_id": rental.OfferingID,
		"renter":      rental.Renter,
		"kind":        string(rental.Kind),
		"amount":      strconv.FormatInt(rental.EscrowAmount, 10),
	}
	if rental.Kind == rentaldomain.KindPayPerUse {
		payload["max_usage"] = rental.MaxUsage
	}
	if rental.ExpiresAt != nil {
		payload["expires_at"] = rental.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
		EntityType: auditdomain.EntityRental,
		EntityID:   strconv.FormatUint(rental.ID, 10),
		Action:     "rental.created",
		Payload:    payload,
	}); err != nil {
		return err
	}

	kind := strings.ToLower(string(rental.Kind))
	tx.AfterCommit(func() {
		s.obsMetrics.RecordRentalCreated(ctx, kind)
		obslogger.WithContext(ctx, s.log).Info("rental created",
			zap.Uint64("rental_id", rental.ID),
			zap.Uint64("offering_id", rental.OfferingID),
			zap.String("kind", kind),
		)
	})
	return nil
}

// cancellationSplit returns how much of the escrow goes back to the renter
// and how much is released to the owner on cancellation.
func cancellationSplit(rental rentaldomain.Rental, now time.Time) (refund, release int64) {
	switch rental.Kind {
	case rentaldomain.KindPayPerUse:
		return rental.EscrowAmount - rental.Consumed(), 0
	case rentaldomain.KindSubscription:
		if rental.UsageCount == 0 || rental.ExpiresAt == nil {
			return rental.EscrowAmount, 0
		}
		total := rental.ExpiresAt.Sub(rental.CreatedAt)
		remaining := rental.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		if remaining > total {
			remaining = total
		}
		refund = prorate(rental.EscrowAmount, remaining, total)
		return refund, rental.EscrowAmount - refund
	}
	return 0, 0
}

// prorate returns floor(amount * part / whole) without intermediate overflow.
// part must not exceed whole.
func prorate(amount int64, part, whole time.Duration) int64 {
	if amount <= 0 || part <= 0 || whole <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(amount), uint64(part))
	quo, _ := bits.Div64(hi, lo, uint64(whole))
	return int64(quo)
}

func mulAmount(price, count int64) (int64, error) {
	hi, lo := bits.Mul64(uint64(price), uint64(count))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, rentaldomain.ErrAmountOverflow
	}
	return int64(lo), nil
}

func sumPayouts(payouts []escrow.Payout) int64 {
	var total int64
	for _, p := range payouts {
		total += p.Amount()
	}
	return total
}
