package migration

import (
	"strings"

	"github.com/smallbiznis/agentmarket/internal/config"
	"github.com/smallbiznis/agentmarket/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if strings.ToLower(strings.TrimSpace(cfg.DBType)) != db.TypePostgres {
			log.Info("applying schema with auto migrate", zap.String("db_type", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		log.Info("applying embedded migrations")
		return RunMigrations(sqlDB)
	}),
)
