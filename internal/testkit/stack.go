// Package testkit wires the marketplace collaborators over an in-memory
// sqlite database for package tests.
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/audit/feed"
	auditrepo "github.com/smallbiznis/agentmarket/internal/audit/repository"
	auditservice "github.com/smallbiznis/agentmarket/internal/audit/service"
	"github.com/smallbiznis/agentmarket/internal/callerctx"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	ledgerdomain "github.com/smallbiznis/agentmarket/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/agentmarket/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/agentmarket/internal/ledger/service"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	"github.com/smallbiznis/agentmarket/internal/migration"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	offeringrepo "github.com/smallbiznis/agentmarket/internal/offering/repository"
	offeringservice "github.com/smallbiznis/agentmarket/internal/offering/service"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Epoch is the fake clock's starting instant.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type Stack struct {
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      *clock.FakeClock
	Node       *snowflake.Node
	Runner     *ledgertx.Runner
	Policy     *config.PolicyHolder
	Hub        *feed.Hub
	Audit      auditdomain.Service
	Ledger     ledgerdomain.Service
	Escrow     *escrow.Service
	Settlement *settlement.Recorder
	Offerings  offeringdomain.Service
}

// OpenDB returns a migrated single-connection in-memory database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func NewStack(t testing.TB, policy config.MarketPolicy) *Stack {
	t.Helper()
	db := OpenDB(t)
	log := zap.NewNop()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(Epoch)
	holder := config.NewStaticPolicyHolder(policy)
	runner := ledgertx.NewRunner(ledgertx.RunnerParam{DB: db, Log: log})
	hub := feed.NewHub()

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.Provide(),
		Hub:   hub,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepo.Provide(),
	})
	escrowSvc := escrow.NewService(escrow.Params{
		DB:     db,
		Log:    log,
		Clock:  clk,
		Policy: holder,
		Repo:   escrow.ProvideRepository(),
		Ledger: ledger,
	})
	offerings := offeringservice.NewService(offeringservice.ServiceParam{
		Runner: runner,
		Log:    log,
		Clock:  clk,
		Repo:   offeringrepo.Provide(),
		Audit:  audit,
	})

	return &Stack{
		DB:         db,
		Log:        log,
		Clock:      clk,
		Node:       node,
		Runner:     runner,
		Policy:     holder,
		Hub:        hub,
		Audit:      audit,
		Ledger:     ledger,
		Escrow:     escrowSvc,
		Settlement: settlement.NewRecorder(settlement.Params{DB: db, Log: log, GenID: node, Clock: clk}),
		Offerings:  offerings,
	}
}

// As returns a context carrying address as the caller.
func As(address string) context.Context {
	return callerctx.WithCaller(context.Background(), address)
}

// RegisterOffering lists an offering owned by owner and returns its id.
func (s *Stack) RegisterOffering(t testing.TB, owner string, pricePerUse, subscriptionPrice int64) uint64 {
	t.Helper()
	id, err := s.Offerings.Register(As(owner), offeringdomain.RegisterRequest{
		Name:              "Agent",
		Category:          "Research",
		ContentHash:       "QmAgent",
		PricePerUse:       pricePerUse,
		SubscriptionPrice: subscriptionPrice,
	})
	require.NoError(t, err)
	return id
}

// Actions returns the audit actions recorded for one entity, oldest first.
func (s *Stack) Actions(t testing.TB, entityType, entityID string) []string {
	t.Helper()
	resp, err := s.Audit.List(context.Background(), auditdomain.ListEventRequest{
		EntityType: entityType,
		EntityID:   entityID,
	})
	require.NoError(t, err)
	actions := make([]string, 0, len(resp.Events))
	for _, event := range resp.Events {
		actions = append(actions, event.Action)
	}
	return actions
}
