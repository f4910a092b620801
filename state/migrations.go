package state

import (
	"embed"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/agape-platform/realtime/state/migrations"
)

//go:embed migrations/*.go
var migrationsFS embed.FS

// Migrate runs the goose migrations. Table creation itself happens in the
// table constructors; migrations only reshape existing deployments.
func Migrate(db *sqlx.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db.DB, "migrations")
}
