package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/agentmarket/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertProvider(ctx context.Context, db *gorm.DB, provider *domain.ComputeProvider) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint_url", "registered", "updated_at"}),
	}).Create(provider).Error
}

func (r *repo) FindProvider(ctx context.Context, db *gorm.DB, address string) (*domain.ComputeProvider, error) {
	var provider domain.ComputeProvider
	err := db.WithContext(ctx).Where("address = ?", address).Take(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_records (
			id, rental_id, offering_id, renter, compute_provider, job_id,
			compute_time_ms, resources_used, input_hash, output_hash, digest,
			verified, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.RentalID,
		record.OfferingID,
		record.Renter,
		record.ComputeProvider,
		record.JobID,
		record.ComputeTimeMs,
		record.ResourcesUsed,
		record.InputHash,
		record.OutputHash,
		record.Digest,
		record.Verified,
		record.CreatedAt,
	).Error
}

func (r *repo) FindRecord(ctx context.Context, db *gorm.DB, id uint64) (*domain.UsageRecord, error) {
	var record domain.UsageRecord
	err := db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) UpdateVerdict(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Model(&domain.UsageRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"verified":    record.Verified,
			"proof_hash":  record.ProofHash,
			"verified_by": record.VerifiedBy,
			"verified_at": record.VerifiedAt,
		}).Error
}

func (r *repo) ListByRental(ctx context.Context, db *gorm.DB, rentalID uint64) ([]domain.UsageRecord, error) {
	var records []domain.UsageRecord
	err := db.WithContext(ctx).
		Where("rental_id = ?", rentalID).
		Order("id asc").
		Find(&records).Error
	return records, err
}

func (r *repo) StatsByOffering(ctx context.Context, db *gorm.DB, offeringID uint64) (domain.AgentUsageStats, error) {
	var stats domain.AgentUsageStats
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total_usage,
			COALESCE(SUM(CASE WHEN verified THEN 1 ELSE 0 END), 0) AS verified_usage,
			COALESCE(SUM(compute_time_ms), 0) AS total_compute_time,
			COALESCE(SUM(resources_used), 0) AS total_resources_used
		FROM usage_records
		WHERE offering_id = ?`,
		offeringID,
	).Scan(&stats).Error
	return stats, err
}
