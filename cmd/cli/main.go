package main

import (
	"os"
	"strings"

	"github.com/territorios-app/territorios/internal/config"
	"github.com/territorios-app/territorios/internal/repository"
	"github.com/territorios-app/territorios/pkg/logger"
	"github.com/territorios-app/territorios/pkg/pg"
)

// main.go --env=.env --dir=./migrations
// The SQL migrations target postgres; sqlite stores are created from the
// entities instead (--auto-migrate, implied by STORE_DRIVER=sqlite).
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()
	if _, err := logger.Configure(cfg.AppName+"-cli", cfg.LogEnv, cfg.LogLevel); err != nil {
		logger.Error("invalid log settings", "error", err)
		os.Exit(1)
	}

	if hasFlag("--auto-migrate") || cfg.StoreDriver == pg.DriverSqlite {
		db, err := pg.Create(cfg.PostgresWrite(), false)
		if err != nil {
			logger.Error("migration: failed connecting to the database", "error", err)
			os.Exit(1)
		}
		if err = repository.AutoMigrate(db); err != nil {
			logger.Error("migration: auto migrate failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migration: schema synced from entities", "driver", cfg.StoreDriver)
		return
	}

	if err = pg.Migrate(cfg.PostgresWrite(), getMigrationPath()); err != nil {
		logger.Error("migration: error running migrations", "error", err)
		os.Exit(1)
	}
}

func hasFlag(name string) bool {
	for _, v := range os.Args[1:] {
		if v == name {
			return true
		}
	}
	return false
}

func flagValue(name string) (string, bool) {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, name+"=") {
			return strings.TrimPrefix(v, name+"="), true
		}
	}
	return "", false
}

func getEnvPath() string {
	path, ok := flagValue("--env")
	if !ok {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if ok {
			logger.Error("failed to open the passed env file", "error", err)
		}
		return ""
	}
	return path
}

func getMigrationPath() string {
	if path, ok := flagValue("--dir"); ok {
		return path
	}
	return "./migrations"
}
