package repository

import (
	"context"

	"github.com/smallbiznis/agentmarket/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.Entry, lines []domain.EntryLine) error {
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, source_type, source_id, memo, occurred_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID,
		string(entry.SourceType),
		entry.SourceID,
		entry.Memo,
		entry.OccurredAt,
	).Error; err != nil {
		return err
	}

	for _, line := range lines {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO ledger_entry_lines (id, entry_id, account_code, party, direction, amount)
			VALUES (?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.EntryID,
			string(line.AccountCode),
			line.Party,
			string(line.Direction),
			line.Amount,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

type sums struct {
	Debit  int64
	Credit int64
}

const sumColumns = `COALESCE(SUM(CASE WHEN l.direction = 'debit' THEN l.amount ELSE 0 END), 0) AS debit,
	COALESCE(SUM(CASE WHEN l.direction = 'credit' THEN l.amount ELSE 0 END), 0) AS credit`

func (r *repo) SumBySource(ctx context.Context, db *gorm.DB, account domain.AccountCode, sourceID uint64) (int64, int64, error) {
	var out sums
	err := db.WithContext(ctx).Raw(
		`SELECT `+sumColumns+`
		FROM ledger_entry_lines l
		JOIN ledger_entries e ON e.id = l.entry_id
		WHERE l.account_code = ? AND e.source_id = ?`,
		string(account),
		sourceID,
	).Scan(&out).Error
	return out.Debit, out.Credit, err
}

func (r *repo) SumByParty(ctx context.Context, db *gorm.DB, account domain.AccountCode, party string) (int64, int64, error) {
	var out sums
	err := db.WithContext(ctx).Raw(
		`SELECT `+sumColumns+`
		FROM ledger_entry_lines l
		WHERE l.account_code = ? AND l.party = ?`,
		string(account),
		party,
	).Scan(&out).Error
	return out.Debit, out.Credit, err
}
