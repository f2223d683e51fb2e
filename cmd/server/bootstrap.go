package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/skyprovider/internal/api"
	"github.com/charlesng35/skyprovider/internal/app"
	"github.com/charlesng35/skyprovider/internal/database"
	"github.com/charlesng35/skyprovider/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB     *gorm.DB
	App    *app.Stack
	Router *gin.Engine
}

// bootstrapRuntime initialises the database, the provider components, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial bootstrap cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.App, err = app.NewStack(cfg, stack.DB)
	if err != nil {
		return nil, err
	}

	if err := stack.App.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Services{
		DB:          stack.DB,
		Metadata:    stack.App.Metadata,
		Hub:         stack.App.Hub,
		Controllers: stack.App.Controllers,
		RateStore:   stack.App.RateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	log.Info("provider ready",
		zap.String("name", stack.App.Metadata.Name),
		zap.String("url", stack.App.Metadata.URL),
	)

	success = true
	return stack, nil
}

// Shutdown disconnects host sessions, stops background jobs and releases the database.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.App != nil {
		s.App.Close()
		errs = multierr.Append(errs, s.App.Cleaner.RunOnce(ctx))
	}
	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, multierr.Append(fmt.Errorf("auto-migrate database: %w", err), closeDatabase(db))
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
