package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	UpsertProvider(ctx context.Context, db *gorm.DB, provider *ComputeProvider) error
	FindProvider(ctx context.Context, db *gorm.DB, address string) (*ComputeProvider, error)

	InsertRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	FindRecord(ctx context.Context, db *gorm.DB, id uint64) (*UsageRecord, error)
	UpdateVerdict(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	ListByRental(ctx context.Context, db *gorm.DB, rentalID uint64) ([]UsageRecord, error)
	StatsByOffering(ctx context.Context, db *gorm.DB, offeringID uint64) (AgentUsageStats, error)
}
