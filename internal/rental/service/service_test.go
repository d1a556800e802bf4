package service

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	ledgerdomain "github.com/smallbiznis/agentmarket/internal/ledger/domain"
	"github.com/smallbiznis/agentmarket/internal/ledgererr"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/rental/repository"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	"github.com/smallbiznis/agentmarket/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	owner  = "0xowner"
	renter = "0xrenter"
)

type mockTransferer struct {
	mock.Mock
}

func (m *mockTransferer) Transfer(ctx context.Context, tx *ledgertx.Tx, payouts ...escrow.Payout) error {
	args := m.Called(ctx, tx, payouts)
	return args.Error(0)
}

type fixture struct {
	*testkit.Stack
	svc rentaldomain.Service
}

func setup(t *testing.T) fixture {
	return setupWith(t, nil)
}

func setupWith(t *testing.T, transferer settlement.Transferer) fixture {
	t.Helper()
	stack := testkit.NewStack(t, config.DefaultMarketPolicy())
	if transferer == nil {
		transferer = stack.Settlement
	}
	svc := NewService(ServiceParam{
		Runner:     stack.Runner,
		Log:        stack.Log,
		Clock:      stack.Clock,
		Repo:       repository.Provide(),
		Offerings:  stack.Offerings,
		Counter:    stack.Offerings,
		Escrow:     stack.Escrow,
		Transferer: transferer,
		Audit:      stack.Audit,
	})
	return fixture{Stack: stack, svc: svc}
}

func (f fixture) rentPPU(t *testing.T, offeringID uint64, maxUsage, payment int64) uint64 {
	t.Helper()
	id, err := f.svc.RentPayPerUse(testkit.As(renter), rentaldomain.RentPayPerUseRequest{
		OfferingID: offeringID,
		MaxUsage:   maxUsage,
		Payment:    payment,
	})
	require.NoError(t, err)
	return id
}

func (f fixture) balance(t *testing.T, address string) int64 {
	t.Helper()
	total, err := f.Settlement.Balance(context.Background(), address)
	require.NoError(t, err)
	return total
}

func TestRentPayPerUseLocksExactPayment(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 100, 0)

	_, err := f.svc.RentPayPerUse(testkit.As(renter), rentaldomain.RentPayPerUseRequest{OfferingID: offeringID, MaxUsage: 3, Payment: 299})
	assert.Equal(t, ledgererr.PaymentMismatch, ledgererr.KindOf(err))

	id := f.rentPPU(t, offeringID, 3, 300)
	assert.Equal(t, uint64(1), id)

	rental, err := f.svc.GetRental(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, rentaldomain.KindPayPerUse, rental.Kind)
	assert.Equal(t, rentaldomain.StatusActive, rental.Status)
	assert.Equal(t, int64(300), rental.EscrowAmount)
	assert.Equal(t, uint64(3), rental.MaxUsage)
	assert.Equal(t, renter, rental.Renter)
	assert.Equal(t, owner, rental.Owner)

	held, err := f.Escrow.HeldBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(300), held)
	assert.Equal(t, []string{"rental.created"}, f.Actions(t, auditdomain.EntityRental, "1"))
}

func TestRentPayPerUseRejections(t *testing.T) {
	f := setup(t)
	ppu := f.RegisterOffering(t, owner, 100, 0)
	subOnly := f.RegisterOffering(t, owner, 0, 500)

	cases := []struct {
		name string
		req  rentaldomain.RentPayPerUseRequest
		kind ledgererr.Kind
	}{
		{"unknown offering", rentaldomain.RentPayPerUseRequest{OfferingID: 99, MaxUsage: 1, Payment: 100}, ledgererr.NotFound},
		{"zero max usage", rentaldomain.RentPayPerUseRequest{OfferingID: ppu, MaxUsage: 0, Payment: 0}, ledgererr.InvalidInput},
		{"no per-use price", rentaldomain.RentPayPerUseRequest{OfferingID: subOnly, MaxUsage: 1, Payment: 0}, ledgererr.InvalidInput},
		{"overflow", rentaldomain.RentPayPerUseRequest{OfferingID: ppu, MaxUsage: 1 << 62, Payment: 1}, ledgererr.InvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RentPayPerUse(testkit.As(renter), tc.req)
			assert.Equal(t, tc.kind, ledgererr.KindOf(err))
		})
	}

	require.NoError(t, f.Offerings.Deactivate(testkit.As(owner), ppu))
	_, err := f.svc.RentPayPerUse(testkit.As(renter), rentaldomain.RentPayPerUseRequest{OfferingID: ppu, MaxUsage: 1, Payment: 100})
	assert.Equal(t, ledgererr.Inactive, ledgererr.KindOf(err))

	_, err = f.svc.GetRental(context.Background(), 1)
	assert.ErrorIs(t, err, rentaldomain.ErrNotFound)
}

func TestUseAgentCompletesOnFinalUse(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 10_000, 0)
	id := f.rentPPU(t, offeringID, 3, 30_000)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.UseAgent(testkit.As(renter), id))
	}

	rental, err := f.svc.GetRental(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rental.UsageCount)
	assert.Equal(t, rentaldomain.StatusCompleted, rental.Status)

	err = f.svc.UseAgent(testkit.As(renter), id)
	assert.Equal(t, ledgererr.InvalidState, ledgererr.KindOf(err))

	offering, err := f.Offerings.Get(context.Background(), offeringID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), offering.TotalUsage)

	// 2.5% of each 10_000 release goes to the platform.
	assert.Equal(t, int64(29_250), f.balance(t, owner))
	assert.Equal(t, int64(750), f.balance(t, "platform"))
	held, err := f.Escrow.HeldBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, held)

	fees, err := f.Ledger.PartyBalance(context.Background(), f.DB, ledgerdomain.AccountPlatformFees, "platform")
	require.NoError(t, err)
	assert.Equal(t, int64(750), fees)
}

func TestCancelBeforeUseRefundsEverything(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 100, 0)
	id := f.rentPPU(t, offeringID, 5, 500)

	err := f.svc.CancelRental(testkit.As(owner), id)
	assert.ErrorIs(t, err, rentaldomain.ErrNotRenter)

	require.NoError(t, f.svc.CancelRental(testkit.As(renter), id))
	rental, err := f.svc.GetRental(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, rentaldomain.StatusCancelled, rental.Status)
	assert.Equal(t, int64(500), f.balance(t, renter))

	err = f.svc.CancelRental(testkit.As(renter), id)
	assert.Equal(t, ledgererr.InvalidState, ledgererr.KindOf(err))
	err = f.svc.UseAgent(testkit.As(renter), id)
	assert.Equal(t, ledgererr.InvalidState, ledgererr.KindOf(err))
}

func TestCancelAfterPartialUseRefundsUnconsumed(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 100, 0)
	id := f.rentPPU(t, offeringID, 5, 500)

	require.NoError(t, f.svc.UseAgent(testkit.As(renter), id))
	require.NoError(t, f.svc.UseAgent(testkit.As(renter), id))
	require.NoError(t, f.svc.CancelRental(testkit.As(renter), id))

	assert.Equal(t, int64(300), f.balance(t, renter))
	// floor(100 * 250 / 10000) = 2 per use
	assert.Equal(t, int64(196), f.balance(t, owner))
	assert.Equal(t, int64(4), f.balance(t, "platform"))

	account, err := f.Escrow.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, account.Available())
}

func TestCancelCompletedRentalFails(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 100, 0)
	id := f.rentPPU(t, offeringID, 1, 100)
	require.NoError(t, f.svc.UseAgent(testkit.As(renter), id))

	err := f.svc.CancelRental(testkit.As(renter), id)
	assert.ErrorIs(t, err, rentaldomain.ErrNotActive)
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 0, 1000)

	_, err := f.svc.RentSubscription(testkit.As(renter), rentaldomain.RentSubscriptionRequest{OfferingID: offeringID, Duration: 0, Payment: 1000})
	assert.Equal(t, ledgererr.InvalidInput, ledgererr.KindOf(err))
	_, err = f.svc.RentSubscription(testkit.As(renter), rentaldomain.RentSubscriptionRequest{OfferingID: offeringID, Duration: time.Hour, Payment: 999})
	assert.Equal(t, ledgererr.PaymentMismatch, ledgererr.KindOf(err))

	id, err := f.svc.RentSubscription(testkit.As(renter), rentaldomain.RentSubscriptionRequest{OfferingID: offeringID, Duration: time.Hour, Payment: 1000})
	require.NoError(t, err)

	rental, err := f.svc.GetRental(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rental.ExpiresAt)
	assert.True(t, rental.ExpiresAt.Equal(testkit.Epoch.Add(time.Hour)))
	assert.Zero(t, rental.MaxUsage)

	for i := 0; i < 10; i++ {
		require.NoError(t, f.svc.UseAgent(testkit.As(renter), id))
	}
	assert.Zero(t, f.balance(t, owner))

	err = f.svc.CompleteRental(testkit.As(owner), id)
	assert.ErrorIs(t, err, rentaldomain.ErrNotExpired)

	f.Clock.Advance(time.Hour)
	require.NoError(t, f.svc.UseAgent(testkit.As(renter), id))

	f.Clock.Advance(time.Second)
	err = f.svc.UseAgent(testkit.As(renter), id)
	assert.Equal(t, ledgererr.Expired, ledgererr.KindOf(err))

	err = f.svc.CompleteRental(testkit.As("0xstranger"), id)
	assert.Equal(t, ledgererr.Unauthorized, ledgererr.KindOf(err))

	require.NoError(t, f.svc.CompleteRental(testkit.As(owner), id))
	rental, err = f.svc.GetRental(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, rentaldomain.StatusCompleted, rental.Status)
	assert.Equal(t, uint64(11), rental.UsageCount)
	assert.Equal(t, int64(975), f.balance(t, owner))
	assert.Equal(t, int64(25), f.balance(t, "platform"))
}

func TestSubscriptionCancellationProrates(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 0, 1000)

	unused, err := f.svc.RentSubscription(testkit.As(renter), rentaldomain.RentSubscriptionRequest{OfferingID: offeringID, Duration: 4 * time.Hour, Payment: 1000})
	require.NoError(t, err)
	used, err := f.svc.RentSubscription(testkit.As(renter), rentaldomain.RentSubscriptionRequest{OfferingID: offeringID, Duration: 4 * time.Hour, Payment: 1000})
	require.NoError(t, err)
	require.NoError(t, f.svc.UseAgent(testkit.As(renter), used))

	f.Clock.Advance(3 * time.Hour)

	require.NoError(t, f.svc.CancelRental(testkit.As(renter), unused))
	assert.Equal(t, int64(1000), f.balance(t, renter))

	require.NoError(t, f.svc.CancelRental(testkit.As(renter), used))
	// one quarter of the window remains
	assert.Equal(t, int64(1250), f.balance(t, renter))
	assert.Equal(t, int64(732), f.balance(t, owner))
	assert.Equal(t, int64(18), f.balance(t, "platform"))
}

func TestSettlementFailureRollsBackUse(t *testing.T) {
	transferer := &mockTransferer{}
	f := setupWith(t, transferer)
	offeringID := f.RegisterOffering(t, owner, 100, 0)

	id := f.rentPPU(t, offeringID, 2, 200)

	transferer.On("Transfer", mock.Anything, mock.Anything, mock.MatchedBy(func(payouts []escrow.Payout) bool {
		return len(payouts) == 2 && payouts[0].Kind() == escrow.PayoutOwnerEarning && payouts[0].Amount() == 98
	})).Return(errors.New("settlement unavailable")).Once()

	err := f.svc.UseAgent(testkit.As(renter), id)
	require.Error(t, err)

	rental, err := f.svc.GetRental(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, rental.UsageCount)
	assert.Equal(t, rentaldomain.StatusActive, rental.Status)

	offering, err := f.Offerings.Get(context.Background(), offeringID)
	require.NoError(t, err)
	assert.Zero(t, offering.TotalUsage)

	held, err := f.Escrow.HeldBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), held)
	assert.Equal(t, []string{"rental.created"}, f.Actions(t, auditdomain.EntityRental, "1"))

	transferer.AssertExpectations(t)
}

func TestListByRenter(t *testing.T) {
	f := setup(t)
	offeringID := f.RegisterOffering(t, owner, 100, 0)
	f.rentPPU(t, offeringID, 1, 100)
	f.rentPPU(t, offeringID, 2, 200)

	rentals, err := f.svc.ListByRenter(context.Background(), "0xRENTER")
	require.NoError(t, err)
	require.Len(t, rentals, 2)
	assert.Equal(t, uint64(1), rentals[0].ID)
	assert.Equal(t, uint64(2), rentals[1].ID)
}

func TestProrate(t *testing.T) {
	assert.Equal(t, int64(250), prorate(1000, time.Hour, 4*time.Hour))
	assert.Equal(t, int64(333), prorate(1000, time.Hour, 3*time.Hour))
	assert.Zero(t, prorate(1000, 0, time.Hour))
	assert.Equal(t, int64(1<<62), prorate(1<<62, 365*24*time.Hour, 365*24*time.Hour))
}
