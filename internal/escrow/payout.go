package escrow

import "errors"

type PayoutKind string

const (
	PayoutOwnerEarning PayoutKind = "owner_earning"
	PayoutPlatformFee  PayoutKind = "platform_fee"
	PayoutRenterRefund PayoutKind = "renter_refund"
)

// ErrUnbookedPayout is returned for a Payout that escrow did not produce.
var ErrUnbookedPayout = errors.New("unbooked_payout")

// Payout is an outbound value transfer whose bookkeeping is already written.
// Only this package can produce a non-zero Payout, so a transfer can never
// run ahead of the state change that justifies it.
type Payout struct {
	rentalID  uint64
	recipient string
	amount    int64
	kind      PayoutKind
	booked    bool
}

func (p Payout) RentalID() uint64 { return p.rentalID }
func (p Payout) Recipient() string { return p.recipient }
func (p Payout) Amount() int64 { return p.amount }
func (p Payout) Kind() PayoutKind { return p.kind }

// Validate rejects payouts not produced by escrow bookkeeping.
func (p Payout) Validate() error {
	if !p.booked || p.amount <= 0 || p.recipient == "" {
		return ErrUnbookedPayout
	}
	return nil
}
