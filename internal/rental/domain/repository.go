package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rental *Rental) error
	FindByID(ctx context.Context, db *gorm.DB, id uint64) (*Rental, error)
	Update(ctx context.Context, db *gorm.DB, rental *Rental) error
	ListByRenter(ctx context.Context, db *gorm.DB, renter string) ([]Rental, error)
}
