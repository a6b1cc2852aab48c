package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/aquiline/gatehouse/pkg/config"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
	"github.com/aquiline/gatehouse/pkg/storage"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	ctx := context.Background()
	var cmdErr error
	switch flag.Arg(0) {
	case "migrate":
		cmdErr = runMigrate(ctx, cfg, logger)
	case "seed":
		cmdErr = runSeed(ctx, cfg, logger)
	case "validate":
		cmdErr = runValidate(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		logger.WithError(cmdErr).Error("command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: gatehousectl <command>

Commands:
  migrate    Apply pending schema migrations
  seed       Install the built-in role set (idempotent)
  validate   Check the stored role catalog for consistency

Configuration is read from GATEHOUSE_* environment variables.
`)
}

func connect(cfg *config.Config) (*sql.DB, error) {
	db, err := storage.Connect(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func runMigrate(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.ApplyMigrations(ctx, db); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runSeed(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	roles := storage.NewRoleStore(db, nil)
	if err := roles.SeedBuiltInRoles(ctx); err != nil {
		return err
	}
	logger.Info("built-in roles seeded")
	return nil
}

func runValidate(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	roles := storage.NewRoleStore(db, nil)
	if err := rbac.Validate(ctx, roles); err != nil {
		return err
	}
	logger.Info("role catalog is consistent")
	return nil
}
