package escrow

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByRentalID(ctx context.Context, db *gorm.DB, rentalID uint64) (*Account, error)
	Update(ctx context.Context, db *gorm.DB, account *Account) error
}

type repo struct{}

func ProvideRepository() Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *Account) error {
	return db.WithContext(ctx).Create(account).Error
}

func (r *repo) FindByRentalID(ctx context.Context, db *gorm.DB, rentalID uint64) (*Account, error) {
	var account Account
	err := db.WithContext(ctx).Where("rental_id = ?", rentalID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, account *Account) error {
	return db.WithContext(ctx).Model(&Account{}).
		Where("rental_id = ?", account.RentalID).
		Updates(map[string]any{
			"released":   account.Released,
			"fees":       account.Fees,
			"refunded":   account.Refunded,
			"updated_at": account.UpdatedAt,
		}).Error
}
