// Package settlement moves value out of escrow once bookkeeping is done.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("settlement",
	fx.Provide(NewRecorder),
	fx.Provide(func(r *Recorder) Transferer { return r }),
)

// Transferer irreversibly moves booked payouts to their recipients. It runs
// inside the ledger transaction; an error rolls the whole operation back.
type Transferer interface {
	Transfer(ctx context.Context, tx *ledgertx.Tx, payouts ...escrow.Payout) error
}

// Transfer is one settled payout.
type Transfer struct {
	ID        snowflake.ID      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	RentalID  uint64            `gorm:"not null;index" json:"rental_id"`
	Recipient string            `gorm:"size:128;not null;index" json:"recipient"`
	Amount    int64             `gorm:"not null" json:"amount"`
	Kind      escrow.PayoutKind `gorm:"size:32;not null" json:"kind"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (Transfer) TableName() string { return "settlement_transfers" }

// Recorder is the default Transferer. It records each payout in
// settlement_transfers so balances per address can be queried.
type Recorder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewRecorder(p Params) *Recorder {
	return &Recorder{
		db:    p.DB,
		log:   p.Log.Named("settlement"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (r *Recorder) Transfer(ctx context.Context, tx *ledgertx.Tx, payouts ...escrow.Payout) error {
	for _, payout := range payouts {
		if err := payout.Validate(); err != nil {
			return err
		}
		transfer := Transfer{
			ID:        r.genID.Generate(),
			RentalID:  payout.RentalID(),
			Recipient: payout.Recipient(),
			Amount:    payout.Amount(),
			Kind:      payout.Kind(),
			CreatedAt: r.clock.Now(),
		}
		if err := tx.WithContext(ctx).Create(&transfer).Error; err != nil {
			return fmt.Errorf("record transfer: %w", err)
		}
		r.log.Debug("payout settled",
			zap.Uint64("rental_id", transfer.RentalID),
			zap.String("recipient", transfer.Recipient),
			zap.Int64("amount", transfer.Amount),
			zap.String("kind", string(transfer.Kind)),
		)
	}
	return nil
}

// Balance returns the total value transferred to address.
func (r *Recorder) Balance(ctx context.Context, address string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&Transfer{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("recipient = ?", address).
		Scan(&total).Error
	return total, err
}

// ListByRental returns the transfers made for a rental in settlement order.
func (r *Recorder) ListByRental(ctx context.Context, rentalID uint64) ([]Transfer, error) {
	var transfers []Transfer
	err := r.db.WithContext(ctx).
		Where("rental_id = ?", rentalID).
		Order("id asc").
		Find(&transfers).Error
	return transfers, err
}
