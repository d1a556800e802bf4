package ledgertx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingObserver struct {
	operations []string
	failures   int
}

func (o *recordingObserver) ObserveTx(operation string, _ time.Duration, err error) {
	o.operations = append(o.operations, operation)
	if err != nil {
		o.failures++
	}
}

func setupRunner(t *testing.T) (*Runner, *recordingObserver) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Sequence{}))

	observer := &recordingObserver{}
	return NewRunner(RunnerParam{DB: db, Log: zap.NewNop(), Observer: observer}), observer
}

func TestNextIDStartsAtOneAndIncrements(t *testing.T) {
	runner, _ := setupRunner(t)
	ctx := context.Background()

	var ids []uint64
	for i := 0; i < 3; i++ {
		err := runner.Run(ctx, "next", func(tx *Tx) error {
			id, err := NextID(ctx, tx, "offerings")
			ids = append(ids, id)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	err := runner.Run(ctx, "other", func(tx *Tx) error {
		id, err := NextID(ctx, tx, "rentals")
		assert.Equal(t, uint64(1), id)
		return err
	})
	require.NoError(t, err)
}

func TestRollbackLeavesNoGapAndSkipsHooks(t *testing.T) {
	runner, observer := setupRunner(t)
	ctx := context.Background()
	boom := errors.New("boom")

	hookRan := false
	err := runner.Run(ctx, "fail", func(tx *Tx) error {
		_, err := NextID(ctx, tx, "offerings")
		require.NoError(t, err)
		tx.AfterCommit(func() { hookRan = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, hookRan)
	assert.Equal(t, 1, observer.failures)

	err = runner.Run(ctx, "ok", func(tx *Tx) error {
		id, err := NextID(ctx, tx, "offerings")
		assert.Equal(t, uint64(1), id)
		tx.AfterCommit(func() { hookRan = true })
		return err
	})
	require.NoError(t, err)
	assert.True(t, hookRan)
	assert.Equal(t, []string{"fail", "ok"}, observer.operations)
}
