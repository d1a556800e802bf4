package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentmarket/internal/clock"
	ledgerdomain "github.com/smallbiznis/agentmarket/internal/ledger/domain"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	obsmetrics "github.com/smallbiznis/agentmarket/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) PostEntry(ctx context.Context, tx *ledgertx.Tx, req ledgerdomain.PostEntryRequest) (snowflake.ID, error) {
	sourceType := ledgerdomain.SourceType(strings.TrimSpace(string(req.SourceType)))
	if sourceType == "" {
		return 0, ledgerdomain.ErrInvalidSourceType
	}
	if req.SourceID == 0 {
		return 0, ledgerdomain.ErrInvalidSourceID
	}

	normalized := make([]ledgerdomain.PostingLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if strings.TrimSpace(string(line.AccountCode)) == "" {
			return 0, ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return 0, err
		}
		if line.Amount < 0 {
			return 0, ledgerdomain.ErrInvalidLineAmount
		}
		// Zero lines carry no value; a fee of 0 is common.
		if line.Amount == 0 {
			continue
		}
		line.Direction = direction
		normalized = append(normalized, line)
	}
	if len(normalized) < 2 {
		return 0, ledgerdomain.ErrInvalidEntryLines
	}
	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return 0, err
	}

	entry := ledgerdomain.Entry{
		ID:         s.genID.Generate(),
		SourceType: sourceType,
		SourceID:   req.SourceID,
		Memo:       strings.TrimSpace(req.Memo),
		OccurredAt: s.clock.Now(),
	}
	lines := make([]ledgerdomain.EntryLine, 0, len(normalized))
	for _, line := range normalized {
		lines = append(lines, ledgerdomain.EntryLine{
			ID:          s.genID.Generate(),
			EntryID:     entry.ID,
			AccountCode: line.AccountCode,
			Party:       line.Party,
			Direction:   line.Direction,
			Amount:      line.Amount,
		})
	}

	if err := s.repo.InsertEntry(ctx, tx.DB, &entry, lines); err != nil {
		return 0, err
	}

	tx.AfterCommit(func() {
		s.obsMetrics.RecordLedgerEntry(ctx, string(sourceType))
	})
	s.log.Debug("ledger entry posted",
		zap.String("source_type", string(sourceType)),
		zap.Uint64("source_id", req.SourceID),
		zap.Int("lines", len(lines)),
	)
	return entry.ID, nil
}

func (s *Service) SourceBalance(ctx context.Context, db *gorm.DB, account ledgerdomain.AccountCode, sourceID uint64) (int64, error) {
	debit, credit, err := s.repo.SumBySource(ctx, db, account, sourceID)
	if err != nil {
		return 0, err
	}
	return debit - credit, nil
}

func (s *Service) PartyBalance(ctx context.Context, db *gorm.DB, account ledgerdomain.AccountCode, party string) (int64, error) {
	debit, credit, err := s.repo.SumByParty(ctx, db, account, party)
	if err != nil {
		return 0, err
	}
	if account.CreditNormal() {
		return credit - debit, nil
	}
	return debit - credit, nil
}

func normalizeDirection(direction ledgerdomain.Direction) (ledgerdomain.Direction, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.DirectionDebit):
		return ledgerdomain.DirectionDebit, nil
	case string(ledgerdomain.DirectionCredit):
		return ledgerdomain.DirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
