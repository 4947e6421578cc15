package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"projectdesk.io/internal/migrate"
	"projectdesk.io/internal/obs"
	"projectdesk.io/ops/migrations"
)

func main() {
	var (
		dsn            = flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", "", "Directory of SQL migrations (default: embedded)")
		seedsPath      = flag.String("seeds", "", "Directory of SQL seeds (default: embedded)")
	)
	flag.Parse()

	logger := obs.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), "text")
	obs.SetLogger(logger)

	if *dsn == "" {
		fatal(logger, "missing DSN: provide via -dsn or PG_DSN")
	}
	if len(flag.Args()) == 0 {
		fatal(logger, "usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fatal(logger, "open db", slog.Any("error", err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db,
		source(*migrationsPath, migrations.SQL()),
		source(*seedsPath, migrations.Seeds()),
		migrate.WithLogger(logger),
	)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []migrate.Applied
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Printf("%s\t%s\n", item.AppliedAt.Format(time.RFC3339), item.Name)
			}
		}
	default:
		fatal(logger, "unknown command", slog.String("command", cmd))
	}
	if err != nil {
		fatal(logger, "migrate failed", slog.String("command", cmd), slog.Any("error", err))
	}
	logger.Info("migrate done", slog.String("command", cmd))
}

func source(dir string, embedded fs.FS) fs.FS {
	if dir == "" {
		return embedded
	}
	return os.DirFS(dir)
}

func fatal(logger *slog.Logger, msg string, attrs ...any) {
	logger.Error(msg, attrs...)
	os.Exit(1)
}
