package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Direction represents debit or credit postings.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

type SourceType string

const (
	SourceTypeEscrowLock    SourceType = "escrow_lock"
	SourceTypeEscrowRelease SourceType = "escrow_release"
	SourceTypeEscrowRefund  SourceType = "escrow_refund"
)

type AccountCode string

const (
	// Value held on behalf of a rental until released or refunded.
	AccountEscrowHeld AccountCode = "escrow_held"
	// Renter payments attached to rent calls.
	AccountRenterDeposits AccountCode = "renter_deposits"
	// Earned by offering owners.
	AccountOwnerPayable AccountCode = "owner_payable"
	AccountPlatformFees AccountCode = "platform_fees"
	AccountRenterRefunds AccountCode = "renter_refunds"
)

// CreditNormal reports whether the account grows with credits. Deposits are
// owed to renters; every other account tracks value held or paid out.
func (c AccountCode) CreditNormal() bool {
	return c == AccountRenterDeposits
}

// Entry is the immutable header of one balanced posting.
type Entry struct {
	ID         snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	SourceType SourceType   `gorm:"type:text;not null;index"`
	SourceID   uint64       `gorm:"not null;index"`
	Memo       string       `gorm:"type:text"`
	OccurredAt time.Time    `gorm:"not null"`
}

func (Entry) TableName() string { return "ledger_entries" }

// EntryLine is a double-entry posting line. Party is the address the line
// is attributed to, empty for the escrow account itself.
type EntryLine struct {
	ID          snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	EntryID     snowflake.ID `gorm:"not null;index"`
	AccountCode AccountCode  `gorm:"type:text;not null;index"`
	Party       string       `gorm:"size:128"`
	Direction   Direction    `gorm:"type:text;not null"`
	Amount      int64        `gorm:"not null"`
}

func (EntryLine) TableName() string { return "ledger_entry_lines" }
