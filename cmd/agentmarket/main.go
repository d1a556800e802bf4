package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agentmarket/internal/audit"
	"github.com/smallbiznis/agentmarket/internal/authorization"
	"github.com/smallbiznis/agentmarket/internal/clock"
	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	"github.com/smallbiznis/agentmarket/internal/ledger"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	"github.com/smallbiznis/agentmarket/internal/marketmetrics"
	"github.com/smallbiznis/agentmarket/internal/migration"
	"github.com/smallbiznis/agentmarket/internal/observability"
	"github.com/smallbiznis/agentmarket/internal/offering"
	"github.com/smallbiznis/agentmarket/internal/ratelimit"
	"github.com/smallbiznis/agentmarket/internal/rental"
	"github.com/smallbiznis/agentmarket/internal/server"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	"github.com/smallbiznis/agentmarket/internal/usage"
	"github.com/smallbiznis/agentmarket/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ledgertx.Module,

		// Accounting
		audit.Module,
		ledger.Module,
		escrow.Module,
		settlement.Module,

		// Marketplace
		offering.Module,
		rental.Module,
		authorization.Module,
		usage.Module,
		ratelimit.Module,
		marketmetrics.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
