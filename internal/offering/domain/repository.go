package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, offering *Offering) error
	FindByID(ctx context.Context, db *gorm.DB, id uint64) (*Offering, error)
	Update(ctx context.Context, db *gorm.DB, offering *Offering) error
	IncrementUsage(ctx context.Context, db *gorm.DB, id uint64) (bool, error)
	ListByOwner(ctx context.Context, db *gorm.DB, owner string) ([]Offering, error)
	ListByCategory(ctx context.Context, db *gorm.DB, category string) ([]Offering, error)
	ListActive(ctx context.Context, db *gorm.DB, offset, limit int) ([]Offering, error)
	Count(ctx context.Context, db *gorm.DB) (int64, error)

	InsertReview(ctx context.Context, db *gorm.DB, review *Review) error
	FindReview(ctx context.Context, db *gorm.DB, offeringID uint64, reviewer string) (*Review, error)
	ReviewStats(ctx context.Context, db *gorm.DB, offeringID uint64) (ReviewStats, error)
	ListReviews(ctx context.Context, db *gorm.DB, offeringID uint64) ([]Review, error)
}
