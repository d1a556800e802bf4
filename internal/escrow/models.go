package escrow

import (
	"time"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
)

// Account is the escrow held for one rental.
type Account struct {
	RentalID    uint64    `gorm:"primaryKey;autoIncrement:false" json:"rental_id"`
	Renter      string    `gorm:"size:128;not null" json:"renter"`
	Beneficiary string    `gorm:"size:128;not null" json:"beneficiary"`
	Locked      int64     `gorm:"not null" json:"locked"`
	Released    int64     `gorm:"not null;default:0" json:"released"`
	Fees        int64     `gorm:"not null;default:0" json:"fees"`
	Refunded    int64     `gorm:"not null;default:0" json:"refunded"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "escrow_accounts" }

// Available is the amount still held.
func (a Account) Available() int64 {
	return a.Locked - a.Released - a.Refunded
}

type LockRequest struct {
	RentalID    uint64
	Renter      string
	Beneficiary string
	Amount      int64
}

var (
	ErrAccountNotFound    = ledgererr.New(ledgererr.NotFound, "escrow_account_not_found")
	ErrAccountExists      = ledgererr.New(ledgererr.Conflict, "escrow_account_exists")
	ErrInvalidAmount      = ledgererr.New(ledgererr.InvalidInput, "invalid_escrow_amount")
	ErrInsufficientEscrow = ledgererr.New(ledgererr.InvalidState, "insufficient_escrow")
)
