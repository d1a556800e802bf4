package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/agentmarket/internal/rental/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rental *domain.Rental) error {
	return db.WithContext(ctx).Create(rental).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id uint64) (*domain.Rental, error) {
	var rental domain.Rental
	err := db.WithContext(ctx).Where("id = ?", id).Take(&rental).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rental, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rental *domain.Rental) error {
	return db.WithContext(ctx).Model(&domain.Rental{}).
		Where("id = ?", rental.ID).
		Updates(map[string]any{
			"usage_count": rental.UsageCount,
			"status":      rental.Status,
			"updated_at":  rental.UpdatedAt,
		}).Error
}

func (r *repo) ListByRenter(ctx context.Context, db *gorm.DB, renter string) ([]domain.Rental, error) {
	var rentals []domain.Rental
	err := db.WithContext(ctx).
		Where("renter = ?", renter).
		Order("id asc").
		Find(&rentals).Error
	return rentals, err
}
