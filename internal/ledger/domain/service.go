package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	"gorm.io/gorm"
)

type PostingLine struct {
	AccountCode AccountCode
	Party       string
	Direction   Direction
	Amount      int64
}

type PostEntryRequest struct {
	SourceType SourceType
	SourceID   uint64
	Memo       string
	Lines      []PostingLine
}

type Service interface {
	PostEntry(ctx context.Context, tx *ledgertx.Tx, req PostEntryRequest) (snowflake.ID, error)
	// SourceBalance returns debits minus credits on account for one source.
	SourceBalance(ctx context.Context, db *gorm.DB, account AccountCode, sourceID uint64) (int64, error)
	// PartyBalance returns the balance of account for one party on its normal side.
	PartyBalance(ctx context.Context, db *gorm.DB, account AccountCode, party string) (int64, error)
}

type Repository interface {
	InsertEntry(ctx context.Context, db *gorm.DB, entry *Entry, lines []EntryLine) error
	SumBySource(ctx context.Context, db *gorm.DB, account AccountCode, sourceID uint64) (debit, credit int64, err error)
	SumByParty(ctx context.Context, db *gorm.DB, account AccountCode, party string) (debit, credit int64, err error)
}

var (
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrInvalidSourceID      = errors.New("invalid_source_id")
	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []PostingLine) error {
	var debit, credit int64
	for _, line := range lines {
		switch line.Direction {
		case DirectionDebit:
			debit += line.Amount
		case DirectionCredit:
			credit += line.Amount
		default:
			return ErrInvalidLineDirection
		}
		if debit < 0 || credit < 0 {
			return ErrInvalidLineAmount
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}
