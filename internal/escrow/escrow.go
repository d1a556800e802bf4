// Package escrow holds rental payments and books every release and refund
// in the double-entry ledger before handing out a Payout.
package escrow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	ledgerdomain "github.com/smallbiznis/agentmarket/internal/ledger/domain"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	obslogger "github.com/smallbiznis/agentmarket/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("escrow.service",
	fx.Provide(ProvideRepository),
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Repo       Repository
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.PolicyHolder
	repo       Repository
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("escrow.service"),
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

// Lock opens the escrow account for a rental and books the deposit.
func (s *Service) Lock(ctx context.Context, tx *ledgertx.Tx, req LockRequest) error {
	if req.RentalID == 0 || req.Amount <= 0 || req.Renter == "" || req.Beneficiary == "" {
		return ErrInvalidAmount
	}

	existing, err := s.repo.FindByRentalID(ctx, tx.DB, req.RentalID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAccountExists
	}

	now := s.clock.Now()
	account := Account{
		RentalID:    req.RentalID,
		Renter:      req.Renter,
		Beneficiary: req.Beneficiary,
		Locked:      req.Amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, tx.DB, &account); err != nil {
		return err
	}

	_, err = s.ledger.PostEntry(ctx, tx, ledgerdomain.PostEntryRequest{
		SourceType: ledgerdomain.SourceTypeEscrowLock,
		SourceID:   req.RentalID,
		Memo:       "rental " + strconv.FormatUint(req.RentalID, 10) + " escrow locked",
		Lines: []ledgerdomain.PostingLine{
			{AccountCode: ledgerdomain.AccountEscrowHeld, Direction: ledgerdomain.DirectionDebit, Amount: req.Amount},
			{AccountCode: ledgerdomain.AccountRenterDeposits, Party: req.Renter, Direction: ledgerdomain.DirectionCredit, Amount: req.Amount},
		},
	})
	if err != nil {
		return fmt.Errorf("post escrow lock: %w", err)
	}
	return nil
}

// Release moves amount from escrow to the beneficiary, less the platform fee.
// A zero amount is a no-op.
func (s *Service) Release(ctx context.Context, tx *ledgertx.Tx, rentalID uint64, amount int64) ([]Payout, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if amount == 0 {
		return nil, nil
	}

	account, err := s.loadForUpdate(ctx, tx, rentalID, amount)
	if err != nil {
		return nil, err
	}

	policy := s.policy.Get()
	fee := policy.Fee(amount)
	earning := amount - fee

	account.Released += amount
	account.Fees += fee
	account.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, tx.DB, account); err != nil {
		return nil, err
	}

	_, err = s.ledger.PostEntry(ctx, tx, ledgerdomain.PostEntryRequest{
		SourceType: ledgerdomain.SourceTypeEscrowRelease,
		SourceID:   rentalID,
		Memo:       "rental " + strconv.FormatUint(rentalID, 10) + " escrow released",
		Lines: []ledgerdomain.PostingLine{
			{AccountCode: ledgerdomain.AccountEscrowHeld, Direction: ledgerdomain.DirectionCredit, Amount: amount},
			{AccountCode: ledgerdomain.AccountOwnerPayable, Party: account.Beneficiary, Direction: ledgerdomain.DirectionDebit, Amount: earning},
			{AccountCode: ledgerdomain.AccountPlatformFees, Party: policy.PlatformAccount, Direction: ledgerdomain.DirectionDebit, Amount: fee},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("post escrow release: %w", err)
	}

	tx.AfterCommit(func() { s.obsMetrics.RecordEscrowReleased(ctx, amount) })

	payouts := make([]Payout, 0, 2)
	if earning > 0 {
		payouts = append(payouts, Payout{
			rentalID:  rentalID,
			recipient: account.Beneficiary,
			amount:    earning,
			kind:      PayoutOwnerEarning,
			booked:    true,
		})
	}
	if fee > 0 {
		payouts = append(payouts, Payout{
			rentalID:  rentalID,
			recipient: policy.PlatformAccount,
			amount:    fee,
			kind:      PayoutPlatformFee,
			booked:    true,
		})
	}
	return payouts, nil
}

// Refund returns amount from escrow to the renter. Refunds carry no fee.
func (s *Service) Refund(ctx context.Context, tx *ledgertx.Tx, rentalID uint64, amount int64) ([]Payout, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if amount == 0 {
		return nil, nil
	}

	account, err := s.loadForUpdate(ctx, tx, rentalID, amount)
	if err != nil {
		return nil, err
	}

	account.Refunded += amount
	account.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, tx.DB, account); err != nil {
		return nil, err
	}

	_, err = s.ledger.PostEntry(ctx, tx, ledgerdomain.PostEntryRequest{
		SourceType: ledgerdomain.SourceTypeEscrowRefund,
		SourceID:   rentalID,
		Memo:       "rental " + strconv.FormatUint(rentalID, 10) + " escrow refunded",
		Lines: []ledgerdomain.PostingLine{
			{AccountCode: ledgerdomain.AccountEscrowHeld, Direction: ledgerdomain.DirectionCredit, Amount: amount},
			{AccountCode: ledgerdomain.AccountRenterRefunds, Party: account.Renter, Direction: ledgerdomain.DirectionDebit, Amount: amount},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("post escrow refund: %w", err)
	}

	tx.AfterCommit(func() { s.obsMetrics.RecordEscrowRefunded(ctx, amount) })

	return []Payout{{
		rentalID:  rentalID,
		recipient: account.Renter,
		amount:    amount,
		kind:      PayoutRenterRefund,
		booked:    true,
	}}, nil
}

func (s *Service) Get(ctx context.Context, rentalID uint64) (Account, error) {
	account, err := s.repo.FindByRentalID(ctx, s.db, rentalID)
	if err != nil {
		return Account{}, err
	}
	if account == nil {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

// Lookup reads the account inside the caller's transaction.
func (s *Service) Lookup(ctx context.Context, tx *ledgertx.Tx, rentalID uint64) (Account, error) {
	account, err := s.repo.FindByRentalID(ctx, tx.DB, rentalID)
	if err != nil {
		return Account{}, err
	}
	if account == nil {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

// HeldBalance returns the escrow still held for a rental according to the ledger.
func (s *Service) HeldBalance(ctx context.Context, rentalID uint64) (int64, error) {
	return s.ledger.SourceBalance(ctx, s.db, ledgerdomain.AccountEscrowHeld, rentalID)
}

func (s *Service) loadForUpdate(ctx context.Context, tx *ledgertx.Tx, rentalID uint64, amount int64) (*Account, error) {
	account, err := s.repo.FindByRentalID(ctx, tx.DB, rentalID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	if amount > account.Available() {
		obslogger.WithContext(ctx, s.log).Warn("escrow overdraw rejected",
			zap.Uint64("rental_id", rentalID),
			zap.Int64("requested", amount),
			zap.Int64("available", account.Available()),
		)
		return nil, ErrInsufficientEscrow
	}
	return account, nil
}
