package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/escrow"
	ledgerdomain "github.com/smallbiznis/agentmarket/internal/ledger/domain"
	"github.com/smallbiznis/agentmarket/internal/ledgertx"
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/settlement"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Models lists every table owned by the marketplace, in dependency order.
func Models() []any {
	return []any{
		&ledgertx.Sequence{},
		&offeringdomain.Offering{},
		&offeringdomain.Review{},
		&rentaldomain.Rental{},
		&escrow.Account{},
		&ledgerdomain.Entry{},
		&ledgerdomain.EntryLine{},
		&settlement.Transfer{},
		&usagedomain.ComputeProvider{},
		&usagedomain.UsageRecord{},
		&auditdomain.Event{},
	}
}

// AutoMigrate creates the schema from the gorm models. Used for sqlite and
// mysql, where the embedded postgres migrations do not apply.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}
