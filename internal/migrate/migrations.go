package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"adoptline/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationsFS embed.FS

func provider(conn *sql.DB, dialect db.Dialect) (*goose.Provider, error) {
	var (
		dir string
		gd  database.Dialect
	)
	switch dialect {
	case db.SQLite:
		dir, gd = "sql/sqlite", database.DialectSQLite3
	case db.Postgres:
		dir, gd = "sql/postgres", database.DialectPostgres
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(gd, conn, fsys)
}

// Migrate applies embedded migrations in order.
func Migrate(ctx context.Context, conn *sql.DB, dialect db.Dialect) error {
	p, err := provider(conn, dialect)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Version reports the schema version currently applied.
func Version(ctx context.Context, conn *sql.DB, dialect db.Dialect) (int64, error) {
	p, err := provider(conn, dialect)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
