package persist

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// The players schema ships inside the binary; a fresh database is
// migrated on first boot with no external tooling.
//
//go:embed migrations/*.sql
var schemaFS embed.FS

// RunMigrations brings the players schema up to date. Runs at startup,
// before the repo loads persisted profiles.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(schemaFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	// goose speaks database/sql; borrow a stdlib view of the pgx pool.
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("migrate players schema: %w", err)
	}
	return nil
}
