package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/agentmarket/internal/offering/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, offering *domain.Offering) error {
	return db.WithContext(ctx).Create(offering).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id uint64) (*domain.Offering, error) {
	var offering domain.Offering
	err := db.WithContext(ctx).Where("id = ?", id).Take(&offering).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offering, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, offering *domain.Offering) error {
	return db.WithContext(ctx).Model(&domain.Offering{}).
		Where("id = ?", offering.ID).
		Updates(map[string]any{
			"name":               offering.Name,
			"description":        offering.Description,
			"price_per_use":      offering.PricePerUse,
			"subscription_price": offering.SubscriptionPrice,
			"active":             offering.Active,
			"rating":             offering.Rating,
			"review_count":       offering.ReviewCount,
			"updated_at":         offering.UpdatedAt,
		}).Error
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, id uint64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE offerings SET total_usage = total_usage + 1 WHERE id = ?`,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListByOwner(ctx context.Context, db *gorm.DB, owner string) ([]domain.Offering, error) {
	var offerings []domain.Offering
	err := db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("id asc").
		Find(&offerings).Error
	return offerings, err
}

func (r *repo) ListByCategory(ctx context.Context, db *gorm.DB, category string) ([]domain.Offering, error) {
	var offerings []domain.Offering
	err := db.WithContext(ctx).
		Where("category = ?", category).
		Order("id asc").
		Find(&offerings).Error
	return offerings, err
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Offering, error) {
	var offerings []domain.Offering
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&offerings).Error
	return offerings, err
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Offering{}).Count(&count).Error
	return count, err
}

func (r *repo) InsertReview(ctx context.Context, db *gorm.DB, review *domain.Review) error {
	return db.WithContext(ctx).Create(review).Error
}

func (r *repo) FindReview(ctx context.Context, db *gorm.DB, offeringID uint64, reviewer string) (*domain.Review, error) {
	var review domain.Review
	err := db.WithContext(ctx).
		Where("offering_id = ? AND reviewer = ?", offeringID, reviewer).
		Take(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *repo) ReviewStats(ctx context.Context, db *gorm.DB, offeringID uint64) (domain.ReviewStats, error) {
	var stats domain.ReviewStats
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(rating), 0) AS sum, COUNT(*) AS count
		FROM offering_reviews WHERE offering_id = ?`,
		offeringID,
	).Scan(&stats).Error
	return stats, err
}

func (r *repo) ListReviews(ctx context.Context, db *gorm.DB, offeringID uint64) ([]domain.Review, error) {
	var reviews []domain.Review
	err := db.WithContext(ctx).
		Where("offering_id = ?", offeringID).
		Order("id asc").
		Find(&reviews).Error
	return reviews, err
}
