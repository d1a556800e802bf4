package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	"github.com/smallbiznis/agentmarket/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sequenceName = "offerings"

const reviewSequenceName = "offering_reviews"

type ServiceParam struct {
	fx.In

	Runner     *ledgertx.Runner
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       offeringdomain.Repository
	Audit      auditdomain.Sink
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	runner     *ledgertx.Runner
	log        *zap.Logger
	clock      clock.Clock
	repo       offeringdomain.Repository
	audit      auditdomain.Sink
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) offeringdomain.Service {
	return &Service{
		runner:     p.Runner,
		log:        p.Log.Named("offering.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Register(ctx context.Context, req offeringdomain.RegisterRequest) (uint64, error) {
	owner, err := callerctx.Require(ctx)
	if err != nil {
		return 0, err
	}

	name := strings.TrimSpace(req.Name)
	contentHash := strings.TrimSpace(req.ContentHash)
	if err := validate(name, contentHash, req.PricePerUse, req.SubscriptionPrice); err != nil {
		return 0, err
	}
	category := strings.TrimSpace(req.Category)

	var id uint64
	err = s.runner.Run(ctx, "offering.register", func(tx *ledgertx.Tx) error {
		next, err := ledgertx.NextID(ctx, tx, sequenceName)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		offering := offeringdomain.Offering{
			ID:                next,
			Owner:             owner,
			Name:              name,
			Description:       strings.TrimSpace(req.Description),
			Category:          category,
			CategorySlug:      slug.Make(category),
			ContentHash:       contentHash,
			PricePerUse:       req.PricePerUse,
			SubscriptionPrice: req.SubscriptionPrice,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Insert(ctx, tx.DB, &offering); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityOffering,
			EntityID:   strconv.FormatUint(next, 10),
			Action:     "offering.registered",
			Payload: map[string]any{
				"id":                 next,
				"owner":              owner,
				"name":               name,
				"category":           category,
				"content_hash":       contentHash,
				"price_per_use":      strconv.FormatInt(req.PricePerUse, 10),
				"subscription_price": strconv.FormatInt(req.SubscriptionPrice, 10),
			},
		}); err != nil {
			return err
		}

		tx.AfterCommit(func() { s.obsMetrics.RecordOfferingRegistered(ctx, offering.CategorySlug) })
		id = next
		return nil
	})
	if err != nil {
		return 0, err
	}

	obslogger.WithContext(ctx, s.log).Info("offering registered", zap.Uint64("offering_id", id), zap.String("owner", owner))
	return id, nil
}

func (s *Service) Update(ctx context.Context, req offeringdomain.UpdateRequest) error {
	caller, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(req.Name)
	return s.runner.Run(ctx, "offering.update", func(tx *ledgertx.Tx) error {
		offering, err := s.loadOwned(ctx, tx, req.ID, caller)
		if err != nil {
			return err
		}
		if err := validate(name, offering.ContentHash, req.PricePerUse, req.SubscriptionPrice); err != nil {
			return err
		}

		offering.Name = name
		offering.Description = strings.TrimSpace(req.Description)
		offering.PricePerUse = req.PricePerUse
		offering.SubscriptionPrice = req.SubscriptionPrice
		offering.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx.DB, offering); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityOffering,
			EntityID:   strconv.FormatUint(offering.ID, 10),
			Action:     "offering.updated",
			Payload: map[string]any{
				"id":                 offering.ID,
				"name":               offering.Name,
				"description":        offering.Description,
				"price_per_use":      strconv.FormatInt(offering.PricePerUse, 10),
				"subscription_price": strconv.FormatInt(offering.SubscriptionPrice, 10),
			},
		})
		return err
	})
}

func (s *Service) Activate(ctx context.Context, id uint64) error {
	return s.setActive(ctx, id, true)
}

func (s *Service) Deactivate(ctx context.Context, id uint64) error {
	return s.setActive(ctx, id, false)
}

// setActive is idempotent: an unchanged flag succeeds without an event.
func (s *Service) setActive(ctx context.Context, id uint64, active bool) error {
	caller, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}

	operation, action := "offering.activate", "offering.activated"
	if !active {
		operation, action = "offering.deactivate", "offering.deactivated"
	}

	return s.runner.Run(ctx, operation, func(tx *ledgertx.Tx) error {
		offering, err := s.loadOwned(ctx, tx, id, caller)
		if err != nil {
			return err
		}
		if offering.Active == active {
			return nil
		}

		offering.Active = active
		offering.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx.DB, offering); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityOffering,
			EntityID:   strconv.FormatUint(id, 10),
			Action:     action,
			Payload:    map[string]any{"id": id, "active": active},
		})
		return err
	})
}

func (s *Service) AddReview(ctx context.Context, req offeringdomain.AddReviewRequest) error {
	reviewer, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}
	if req.Rating < offeringdomain.MinReviewRating || req.Rating > offeringdomain.MaxReviewRating {
		return offeringdomain.ErrInvalidRating
	}

	return s.runner.Run(ctx, "offering.add_review", func(tx *ledgertx.Tx) error {
		offering, err := s.repo.FindByID(ctx, tx.DB, req.OfferingID)
		if err != nil {
			return err
		}
		if offering == nil {
			return offeringdomain.ErrNotFound
		}
		if offering.Owner == reviewer {
			return offeringdomain.ErrOwnerReview
		}

		existing, err := s.repo.FindReview(ctx, tx.DB, offering.ID, reviewer)
		if err != nil {
			return err
		}
		if existing != nil {
			return offeringdomain.ErrDuplicateReview
		}

		reviewID, err := ledgertx.NextID(ctx, tx, reviewSequenceName)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		review := offeringdomain.Review{
			ID:         reviewID,
			OfferingID: offering.ID,
			Reviewer:   reviewer,
			Rating:     uint8(req.Rating),
			Comment:    strings.TrimSpace(req.Comment),
			CreatedAt:  now,
		}
		if err := s.repo.InsertReview(ctx, tx.DB, &review); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return offeringdomain.ErrDuplicateReview
			}
			return err
		}

		stats, err := s.repo.ReviewStats(ctx, tx.DB, offering.ID)
		if err != nil {
			return err
		}
		offering.Rating = stats.ScaledRating()
		offering.ReviewCount = stats.Count
		offering.UpdatedAt = now
		if err := s.repo.Update(ctx, tx.DB, offering); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityOffering,
			EntityID:   strconv.FormatUint(offering.ID, 10),
			Action:     "offering.reviewed",
			Payload: map[string]any{
				"id":           offering.ID,
				"reviewer":     reviewer,
				"rating":       req.Rating,
				"new_rating":   offering.Rating,
				"review_count": offering.ReviewCount,
			},
		})
		return err
	})
}

func (s *Service) IncrementUsage(ctx context.Context, tx *ledgertx.Tx, id uint64) error {
	updated, err := s.repo.IncrementUsage(ctx, tx.DB, id)
	if err != nil {
		return err
	}
	if !updated {
		return offeringdomain.ErrNotFound
	}

	_, err = s.audit.Record(ctx, tx, auditdomain.Entry{
		EntityType: auditdomain.EntityOffering,
		EntityID:   strconv.FormatUint(id, 10),
		Action:     "offering.usage_incremented",
		Payload:    map[string]any{"id": id},
	})
	return err
}

func (s *Service) Lookup(ctx context.Context, tx *ledgertx.Tx, id uint64) (offeringdomain.Offering, error) {
	offering, err := s.repo.FindByID(ctx, tx.DB, id)
	if err != nil {
		return offeringdomain.Offering{}, err
	}
	if offering == nil {
		return offeringdomain.Offering{}, offeringdomain.ErrNotFound
	}
	return *offering, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (offeringdomain.Offering, error) {
	offering, err := s.repo.FindByID(ctx, s.runner.DB(), id)
	if err != nil {
		return offeringdomain.Offering{}, err
	}
	if offering == nil {
		return offeringdomain.Offering{}, offeringdomain.ErrNotFound
	}
	return *offering, nil
}

func (s *Service) ListByOwner(ctx context.Context, owner string) ([]offeringdomain.Offering, error) {
	return s.repo.ListByOwner(ctx, s.runner.DB(), callerctx.Normalize(owner))
}

func (s *Service) ListByCategory(ctx context.Context, category string) ([]offeringdomain.Offering, error) {
	return s.repo.ListByCategory(ctx, s.runner.DB(), strings.TrimSpace(category))
}

// ListActive windows over active offerings in ascending id order.
func (s *Service) ListActive(ctx context.Context, offset, limit int) ([]offeringdomain.Offering, error) {
	if offset < 0 || limit < 0 {
		return nil, offeringdomain.ErrInvalidWindow
	}
	if limit == 0 {
		return []offeringdomain.Offering{}, nil
	}
	return s.repo.ListActive(ctx, s.runner.DB(), offset, limit)
}

func (s *Service) CountTotal(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, s.runner.DB())
}

func (s *Service) ListReviews(ctx context.Context, id uint64) ([]offeringdomain.Review, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListReviews(ctx, s.runner.DB(), id)
}

func (s *Service) loadOwned(ctx context.Context, tx *ledgertx.Tx, id uint64, caller string) (*offeringdomain.Offering, error) {
	offering, err := s.repo.FindByID(ctx, tx.DB, id)
	if err != nil {
		return nil, err
	}
	if offering == nil {
		return nil, offeringdomain.ErrNotFound
	}
	if offering.Owner != caller {
		return nil, offeringdomain.ErrNotOwner
	}
	return offering, nil
}

func validate(name, contentHash string, pricePerUse, subscriptionPrice int64) error {
	if name == "" {
		return offeringdomain.ErrInvalidName
	}
	if contentHash == "" {
		return offeringdomain.ErrInvalidContentHash
	}
	if pricePerUse < 0 || subscriptionPrice < 0 {
		return offeringdomain.ErrInvalidPricing
	}
	if pricePerUse == 0 && subscriptionPrice == 0 {
		return offeringdomain.ErrInvalidPricing
	}
	return nil
}
