// Command idm-migrate applies or reverts the embedded schema migrations.
//
//	idm-migrate [up|down|version]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-idm-session/internal/logging"
	"github.com/tendant/simple-idm-session/pkg/repository"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	db, err := repository.NewDB(context.Background(), databaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch command {
	case repository.MigrateUp, repository.MigrateDown:
		if err := repository.Migrate(db, command); err != nil {
			logger.Fatal("migration failed", zap.String("direction", command), zap.Error(err))
		}
		logger.Info("migration complete", zap.String("direction", command))
	case "version":
		version, dirty, ok, err := repository.MigrationVersion(db)
		if err != nil {
			logger.Fatal("failed to read version", zap.Error(err))
		}
		if !ok {
			logger.Info("no migrations applied")
			return
		}
		logger.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	default:
		logger.Fatal("unknown command, want up, down or version", zap.String("command", command))
	}
}
