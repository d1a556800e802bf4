package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/audit/masking"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sequenceName = "usage_records"

type ServiceParam struct {
	fx.In

	Runner     *ledgertx.Runner
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       usagedomain.Repository
	Rentals    rentaldomain.Reader
	Admins     usagedomain.AdminChecker
	Audit      auditdomain.Sink
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	runner     *ledgertx.Runner
	log        *zap.Logger
	clock      clock.Clock
	repo       usagedomain.Repository
	rentals    rentaldomain.Reader
	admins     usagedomain.AdminChecker
	audit      auditdomain.Sink
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		runner:     p.Runner,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		rentals:    p.Rentals,
		admins:     p.Admins,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RegisterComputeProvider(ctx context.Context, req usagedomain.RegisterComputeProviderRequest) error {
	caller, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}
	isAdmin, err := s.admins.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !isAdmin {
		return usagedomain.ErrNotAdmin
	}

	address := callerctx.Normalize(req.Address)
	if address == "" {
		return usagedomain.ErrInvalidAddress
	}
	endpoint := strings.TrimSpace(req.EndpointURL)
	if err := validateEndpoint(endpoint); err != nil {
		return err
	}

	return s.runner.Run(ctx, "usage.register_compute_provider", func(tx *ledgertx.Tx) error {
		existing, err := s.repo.FindProvider(ctx, tx.DB, address)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		provider := usagedomain.ComputeProvider{
			Address:     address,
			EndpointURL: endpoint,
			Registered:  true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		action := "compute_provider.registered"
		if existing != nil {
			provider.CreatedAt = existing.CreatedAt
			action = "compute_provider.updated"
		}
		if err := s.repo.UpsertProvider(ctx, tx.DB, &provider); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityComputeProvider,
			EntityID:   address,
			Action:     action,
			Payload: map[string]any{
				"address":      address,
				"endpoint_url": masking.RedactEndpoint(endpoint),
			},
		})
		return err
	})
}

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (uint64, error) {
	provider, err := callerctx.Require(ctx)
	if err != nil {
		return 0, err
	}

	var id uint64
	err = s.runner.Run(ctx, "usage.record", func(tx *ledgertx.Tx) error {
		if err := s.ensureProvider(ctx, tx, provider); err != nil {
			return err
		}
		if err := validateUsage(req); err != nil {
			return err
		}

		rental, err := s.rentals.LookupRental(ctx, tx, req.RentalID)
		if err != nil {
			return err
		}

		next, err := ledgertx.NextID(ctx, tx, sequenceName)
		if err != nil {
			return err
		}
		record := usagedomain.UsageRecord{
			ID:              next,
			RentalID:        rental.ID,
			OfferingID:      rental.OfferingID,
			Renter:          rental.Renter,
			ComputeProvider: provider,
			JobID:           strings.TrimSpace(req.JobID),
			ComputeTimeMs:   req.ComputeTimeMs,
			ResourcesUsed:   req.ResourcesUsed,
			InputHash:       strings.TrimSpace(req.InputHash),
			OutputHash:      strings.TrimSpace(req.OutputHash),
			CreatedAt:       s.clock.Now(),
		}
		record.Digest = Digest(record)
		if err := s.repo.InsertRecord(ctx, tx.DB, &record); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityUsageRecord,
			EntityID:   strconv.FormatUint(record.ID, 10),
			Action:     "usage.recorded",
			Payload: map[string]any{
				"id":               record.ID,
				"rental_id":        record.RentalID,
				"offering_id":      record.OfferingID,
				"job_id":           record.JobID,
				"compute_provider": provider,
				"compute_time_ms":  strconv.FormatInt(record.ComputeTimeMs, 10),
				"resources_used":   strconv.FormatInt(record.ResourcesUsed, 10),
				"digest":           record.Digest,
			},
		}); err != nil {
			return err
		}

		tx.AfterCommit(func() { s.obsMetrics.RecordUsageRecorded(ctx) })
		id = record.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// VerifyUsage overwrites any earlier verdict: the latest verification wins.
func (s *Service) VerifyUsage(ctx context.Context, req usagedomain.VerifyUsageRequest) error {
	verifier, err := callerctx.Require(ctx)
	if err != nil {
		return err
	}
	proof := strings.TrimSpace(req.ProofHash)

	return s.runner.Run(ctx, "usage.verify", func(tx *ledgertx.Tx) error {
		if err := s.ensureProvider(ctx, tx, verifier); err != nil {
			return err
		}

		record, err := s.repo.FindRecord(ctx, tx.DB, req.RecordID)
		if err != nil {
			return err
		}
		if record == nil {
			return usagedomain.ErrRecordNotFound
		}

		now := s.clock.Now()
		previous := record.Verified
		record.Verified = req.Verified
		record.ProofHash = proof
		record.VerifiedBy = verifier
		record.VerifiedAt = &now
		if err := s.repo.UpdateVerdict(ctx, tx.DB, record); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, tx, auditdomain.Entry{
			EntityType: auditdomain.EntityUsageRecord,
			EntityID:   strconv.FormatUint(record.ID, 10),
			Action:     "usage.verified",
			Payload: map[string]any{
				"id":                record.ID,
				"verified":          req.Verified,
				"previous_verified": previous,
				"proof_hash":        proof,
				"verified_by":       verifier,
			},
		}); err != nil {
			return err
		}

		verified := req.Verified
		tx.AfterCommit(func() { s.obsMetrics.RecordUsageVerified(ctx, verified) })
		return nil
	})
}

func (s *Service) GetUsageRecord(ctx context.Context, id uint64) (usagedomain.UsageRecord, error) {
	record, err := s.repo.FindRecord(ctx, s.runner.DB(), id)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}
	if record == nil {
		return usagedomain.UsageRecord{}, usagedomain.ErrRecordNotFound
	}
	return *record, nil
}

func (s *Service) GetAgentUsageStats(ctx context.Context, offeringID uint64) (usagedomain.AgentUsageStats, error) {
	return s.repo.StatsByOffering(ctx, s.runner.DB(), offeringID)
}

func (s *Service) GetComputeProvider(ctx context.Context, address string) (usagedomain.ComputeProvider, error) {
	provider, err := s.repo.FindProvider(ctx, s.runner.DB(), callerctx.Normalize(address))
	if err != nil {
		return usagedomain.ComputeProvider{}, err
	}
	if provider == nil {
		return usagedomain.ComputeProvider{}, usagedomain.ErrProviderNotFound
	}
	return *provider, nil
}

func (s *Service) ListUsageByRental(ctx context.Context, rentalID uint64) ([]usagedomain.UsageRecord, error) {
	return s.repo.ListByRental(ctx, s.runner.DB(), rentalID)
}

func (s *Service) ensureProvider(ctx context.Context, tx *ledgertx.Tx, address string) error {
	provider, err := s.repo.FindProvider(ctx, tx.DB, address)
	if err != nil {
		return err
	}
	if provider == nil || !provider.Registered {
		obslogger.WithContext(ctx, s.log).Warn("usage rejected from unregistered provider", zap.String("address", address))
		return usagedomain.ErrNotComputeProvider
	}
	return nil
}

func validateUsage(req usagedomain.RecordUsageRequest) error {
	if strings.TrimSpace(req.JobID) == "" {
		return usagedomain.ErrInvalidJobID
	}
	if req.ComputeTimeMs < 0 || req.ResourcesUsed < 0 {
		return usagedomain.ErrInvalidMeasurement
	}
	return nil
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return nil
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return usagedomain.ErrInvalidEndpoint
	}
	return nil
}
