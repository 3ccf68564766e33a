// Command migrate applies the embedded schema migrations. The API server never
// changes the schema itself.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/examportal/trustcore/backend/internal/migrations"
	"github.com/examportal/trustcore/shared/config"
	"github.com/examportal/trustcore/shared/logger"
	sharedpg "github.com/examportal/trustcore/shared/storage/pg"
)

func main() {
	var (
		configFolder string
		statusOnly   bool
	)
	flag.StringVar(&configFolder, "config_folder", "backend/config", "path to folder with configs")
	flag.BoolVar(&statusOnly, "status", false, "print migration status instead of applying")
	flag.Parse()

	cfg := config.MustLoad(configFolder)
	logger.Initialize(cfg.Public.LogLevel, cfg.Public.LogJSON)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sharedpg.Connect(ctx, cfg.Private.Pg, sharedpg.LightweightConnectionConfig())
	if err != nil {
		logger.Log.Error("failed to connect", "component", "migrate", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if statusOnly {
		err = migrations.Status(ctx, db)
	} else {
		err = migrations.Up(ctx, db)
	}
	if err != nil {
		logger.Log.Error("migration failed", "component", "migrate", "error", err)
		os.Exit(1)
	}
	logger.Log.Info("migrations done", "component", "migrate")
}
