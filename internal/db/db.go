package db

import (
	"context"
	"database/sql"
	"embed"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Pool is the shared connection pool used by the service layer.
var Pool *pgxpool.Pool

func InitDB(ctx context.Context, databaseURL string) error {
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connecting to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return errors.Wrap(err, "pinging postgres")
	}
	Pool = pool
	log.Printf("Connected to database")
	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}

// RunMigrations applies embedded goose migrations through the pgx stdlib
// driver. Safe to run on every startup; goose skips applied versions.
func RunMigrations(databaseURL string) error {
	sqlDB, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return errors.Wrap(err, "opening migration connection")
	}
	defer sqlDB.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting goose dialect")
	}
	if err := goose.Up(sqlDB, "migrations"); err != nil {
		return errors.Wrap(err, "applying migrations")
	}
	log.Printf("Migrations applied")
	return nil
}
