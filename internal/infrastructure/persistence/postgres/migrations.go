package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationTable records applied goose versions.
const MigrationTable = "schema_migrations"

// slogGooseLogger forwards goose output to slog.
type slogGooseLogger struct {
	log *slog.Logger
}

// Printf implements goose.Logger.
func (l slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf implements goose.Logger. It logs at error level and does not exit.
func (l slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate runs a goose command (up, down, status, version, redo, reset)
// against the embedded migrations.
func Migrate(ctx context.Context, conn *Connection, command string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	goose.SetLogger(slogGooseLogger{log: log.With("component", "migrations")})
	goose.SetBaseFS(migrationsFS)
	goose.SetTableName(MigrationTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("postgres: set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(conn.Pool())
	defer db.Close()

	const dir = "migrations"

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, db, dir)
	case "down":
		err = goose.DownContext(ctx, db, dir)
	case "redo":
		err = goose.RedoContext(ctx, db, dir)
	case "reset":
		err = goose.ResetContext(ctx, db, dir)
	case "status":
		err = goose.StatusContext(ctx, db, dir)
	case "version":
		err = goose.VersionContext(ctx, db, dir)
	default:
		return fmt.Errorf("postgres: unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("postgres: migrate %s: %w", command, err)
	}
	return nil
}
