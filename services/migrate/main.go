package main

import (
	"database/sql"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		logger.Fatal("usage: migrate <up|down|version>")
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Fatal("POSTGRES_URL environment variable is required")
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://migrations"
	}

	waitForDatabase(postgresURL, logger)

	m, err := migrate.New(migrationsPath, postgresURL)
	if err != nil {
		logger.Fatal("failed to create migrate instance", zap.Error(err))
	}
	defer func() { _, _ = m.Close() }()

	switch args[0] {
	case "up":
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no pending migrations")
			return
		}
		if err != nil {
			logger.Fatal("migration up failed", zap.Error(err))
		}
		logger.Info("migrations applied successfully")

	case "down":
		err = m.Steps(-1)
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to rollback")
			return
		}
		if err != nil {
			logger.Fatal("migration down failed", zap.Error(err))
		}
		logger.Info("migration rolled back successfully")

	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied yet")
			return
		}
		if err != nil {
			logger.Fatal("failed to get version", zap.Error(err))
		}
		logger.Info("current migration version",
			zap.Uint("version", version), zap.Bool("dirty", dirty))

	default:
		logger.Fatal("unknown command", zap.String("command", args[0]))
	}
}

// waitForDatabase aguarda o banco aceitar conexões antes de migrar
func waitForDatabase(postgresURL string, logger *zap.Logger) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			return
		}
		logger.Info("waiting for database", zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}
	logger.Fatal("database not reachable after 30 attempts")
}
