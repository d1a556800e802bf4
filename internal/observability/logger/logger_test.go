package logger

import (
	"context"
	"testing"

	"github.com/smallbiznis/agentmarket/internal/callerctx"
	obscontext "github.com/smallbiznis/agentmarket/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsPresentFieldsOnly(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = callerctx.WithCaller(ctx, "0xABC")
	ctx = obscontext.WithLedgerOperation(ctx, "rental.use")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "0xabc", fields["caller"])
	assert.Equal(t, "rental.use", fields["ledger_operation"])
	assert.NotContains(t, fields, "trace_id")
	assert.NotContains(t, fields, "correlation_id")
}

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{`SELECT * FROM "rentals" WHERE id = $1`, "SELECT", "rentals"},
		{"INSERT INTO `usage_records` (`id`) VALUES (?)", "INSERT", "usage_records"},
		{`UPDATE "escrow_accounts" SET "released"=$1`, "UPDATE", "escrow_accounts"},
		{`DELETE FROM offerings`, "DELETE", "offerings"},
		{`  `, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		assert.Equal(t, tc.operation, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestParseGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, ParseGormLevel("silent", gormlogger.Warn))
	assert.Equal(t, gormlogger.Info, ParseGormLevel(" DEBUG ", gormlogger.Warn))
	assert.Equal(t, gormlogger.Warn, ParseGormLevel("nonsense", gormlogger.Warn))
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zap.ErrorLevel, requestLevel("/api/v1/rentals/:id", 500, ""))
	assert.Equal(t, zap.WarnLevel, requestLevel(usageIngestRoute, 429, "rate_limited"))
	assert.Equal(t, zap.DebugLevel, requestLevel(usageIngestRoute, 400, "invalid_input"))
	assert.Equal(t, zap.InfoLevel, requestLevel(usageIngestRoute, 401, "unauthorized"))
	assert.Equal(t, zap.DebugLevel, requestLevel("/health", 200, ""))
	assert.Equal(t, zap.InfoLevel, requestLevel("/api/v1/offerings", 201, ""))
}
