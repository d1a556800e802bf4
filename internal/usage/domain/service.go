package domain

import (
	"context"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
)

type RegisterComputeProviderRequest struct {
	Address     string `json:"address"`
	EndpointURL string `json:"endpoint_url"`
}

type RecordUsageRequest struct {
	RentalID      uint64 `json:"rental_id"`
	JobID         string `json:"job_id"`
	ComputeTimeMs int64  `json:"compute_time_ms"`
	ResourcesUsed int64  `json:"resources_used"`
	InputHash     string `json:"input_hash"`
	OutputHash    string `json:"output_hash"`
}

type VerifyUsageRequest struct {
	RecordID  uint64 `json:"-"`
	ProofHash string `json:"proof_hash"`
	Verified  bool   `json:"verified"`
}

// AdminChecker decides who may run administrative operations.
type AdminChecker interface {
	IsAdmin(ctx context.Context, address string) (bool, error)
}

type Service interface {
	RegisterComputeProvider(ctx context.Context, req RegisterComputeProviderRequest) error
	RecordUsage(ctx context.Context, req RecordUsageRequest) (uint64, error)
	VerifyUsage(ctx context.Context, req VerifyUsageRequest) error

	GetUsageRecord(ctx context.Context, id uint64) (UsageRecord, error)
	GetAgentUsageStats(ctx context.Context, offeringID uint64) (AgentUsageStats, error)
	GetComputeProvider(ctx context.Context, address string) (ComputeProvider, error)
	ListUsageByRental(ctx context.Context, rentalID uint64) ([]UsageRecord, error)
}

var (
	ErrNotAdmin           = ledgererr.New(ledgererr.Unauthorized, "admin_required")
	ErrNotComputeProvider = ledgererr.New(ledgererr.Unauthorized, "compute_provider_not_registered")
	ErrInvalidAddress     = ledgererr.New(ledgererr.InvalidInput, "invalid_address")
	ErrInvalidEndpoint    = ledgererr.New(ledgererr.InvalidInput, "invalid_endpoint_url")
	ErrInvalidJobID       = ledgererr.New(ledgererr.InvalidInput, "invalid_job_id")
	ErrInvalidMeasurement = ledgererr.New(ledgererr.InvalidInput, "invalid_measurement")
	ErrRecordNotFound     = ledgererr.New(ledgererr.NotFound, "usage_record_not_found")
	ErrProviderNotFound   = ledgererr.New(ledgererr.NotFound, "compute_provider_not_found")
)
