package marketmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/agentmarket/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("market.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(registerer prometheus.Registerer) (*Gauges, error) {
		return NewGauges(registerer)
	}),
	fx.Invoke(registerWorker),
)

// Worker refreshes the gauges and pushes them on every tick.
type Worker struct {
	gauges *Gauges
	pusher Pusher
	db     *gorm.DB
	log    *zap.Logger
}

func NewWorker(gauges *Gauges, pusher Pusher, db *gorm.DB, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{gauges: gauges, pusher: pusher, db: db, log: log.Named("market.metrics")}
}

// RunOnce refreshes the gauges from the store and pushes them when a pusher is configured.
func (w *Worker) RunOnce(ctx context.Context) error {
	if err := w.gauges.Refresh(ctx, w.db); err != nil {
		return err
	}
	if w.pusher == nil {
		return nil
	}
	pushCtx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()
	return w.pusher.Push(pushCtx, w.gauges)
}

func registerWorker(lc fx.Lifecycle, cfg config.Config, gauges *Gauges, pusher Pusher, db *gorm.DB, logger *zap.Logger) {
	worker := NewWorker(gauges, pusher, db, logger)
	interval := cfg.MetricsPushInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			worker.log.Info("starting market metrics worker", zap.Duration("interval", interval), zap.Bool("push", pusher != nil))
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				if err := worker.RunOnce(ctx); err != nil {
					worker.log.Warn("initial market metrics refresh failed", zap.Error(err))
				}
				for {
					select {
					case <-ticker.C:
						if err := worker.RunOnce(ctx); err != nil {
							worker.log.Warn("periodic market metrics refresh failed", zap.Error(err))
						}
					case <-ctx.Done():
						worker.log.Info("stopping market metrics worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
