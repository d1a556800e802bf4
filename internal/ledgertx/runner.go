// Package ledgertx serializes state-changing marketplace operations.
//
// Every mutation runs inside Runner.Run: a process-wide mutex around a single
// database transaction. Work registered with Tx.AfterCommit runs only once the
// transaction has committed, so subscribers never observe rolled-back state.
package ledgertx

import (
	"context"
	"errors"
	"sync"
	"time"

	obscontext "github.com/smallbiznis/agentmarket/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("ledgertx",
	fx.Provide(NewRunner),
)

// Observer receives the outcome of every ledger transaction.
type Observer interface {
	ObserveTx(operation string, elapsed time.Duration, err error)
}

// Tx is the transaction handle passed to operations and their collaborators.
type Tx struct {
	*gorm.DB
	afterCommit []func()
}

// AfterCommit registers fn to run after a successful commit.
func (t *Tx) AfterCommit(fn func()) {
	if fn == nil {
		return
	}
	t.afterCommit = append(t.afterCommit, fn)
}

type Runner struct {
	mu       sync.Mutex
	db       *gorm.DB
	log      *zap.Logger
	observer Observer
}

type RunnerParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Observer Observer `optional:"true"`
}

func NewRunner(p RunnerParam) *Runner {
	return &Runner{
		db:       p.DB,
		log:      p.Log.Named("ledgertx"),
		observer: p.Observer,
	}
}

// DB returns the handle used for reads outside the mutation lock.
func (r *Runner) DB() *gorm.DB {
	return r.db
}

// Run executes fn atomically. Any error returned by fn rolls back all writes.
func (r *Runner) Run(ctx context.Context, operation string, fn func(tx *Tx) error) error {
	ctx, span := otel.Tracer("agentmarket/ledgertx").Start(ctx, "ledger."+operation)
	defer span.End()
	ctx = obscontext.WithLedgerOperation(ctx, operation)

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	var hooks []func()
	err := r.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		tx := &Tx{DB: gtx}
		if err := fn(tx); err != nil {
			return err
		}
		hooks = tx.afterCommit
		return nil
	})
	elapsed := time.Since(start)

	if r.observer != nil {
		r.observer.ObserveTx(operation, elapsed, err)
	}
	span.SetAttributes(attribute.String("ledger.operation", operation))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger transaction rolled back")
		r.log.Debug("ledger transaction rolled back",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return err
	}

	for _, hook := range hooks {
		hook()
	}
	return nil
}

// Sequence is the per-entity id counter. Values are taken inside the ledger
// transaction so a rollback never leaves a gap.
type Sequence struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value uint64 `gorm:"not null"`
}

func (Sequence) TableName() string { return "sequences" }

// NextID returns the next value of the named sequence, starting at 1.
func NextID(ctx context.Context, tx *Tx, name string) (uint64, error) {
	if tx == nil {
		return 0, errors.New("ledgertx: transaction is required")
	}

	var seq Sequence
	err := tx.WithContext(ctx).Where("name = ?", name).Take(&seq).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		seq = Sequence{Name: name, Value: 1}
		if err := tx.WithContext(ctx).Create(&seq).Error; err != nil {
			return 0, err
		}
		return 1, nil
	case err != nil:
		return 0, err
	}

	next := seq.Value + 1
	if err := tx.WithContext(ctx).
		Model(&Sequence{}).
		Where("name = ?", name).
		Update("value", next).Error; err != nil {
		return 0, err
	}
	return next, nil
}
