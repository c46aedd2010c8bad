// Command migrate applies the shotlog schema migrations.
//
//	migrate [-dir path] [-force] up|down|down-to <version>|status|version|reset
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/elskow/shotlog/internal/config"
	"github.com/elskow/shotlog/internal/migration"
	"github.com/elskow/shotlog/internal/server"
)

type migrator interface {
	Up() error
	Down() error
	DownTo(version int64) error
	Status() error
	GetCurrentVersion() (int64, error)
	GetLatestVersion() (int64, error)
	Reset() error
}

var errUsage = errors.New("usage: migrate [-dir path] [-force] up|down|down-to <version>|status|version|reset")

func main() {
	dir := flag.String("dir", "", "migrations directory (overrides migration.dir)")
	force := flag.Bool("force", false, "allow reset in production")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", config.EnvDevelopment)
	}
	env := os.Getenv("APP_ENV")

	logger, err := server.NewLogger(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if flag.NArg() == 0 {
		logger.Fatal(errUsage.Error())
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *dir != "" {
		cfg.Migration.Dir = *dir
	}

	m, err := migration.NewMigrator(&cfg.Database, &cfg.Migration)
	if err != nil {
		logger.Fatal("failed to create migrator", zap.Error(err))
	}
	defer m.Close()

	if env == config.EnvProduction && flag.Arg(0) == "reset" && !*force {
		logger.Fatal("refusing to reset a production database without -force")
	}

	if err := run(m, flag.Args(), logger); err != nil {
		logger.Fatal("migration failed", zap.String("command", flag.Arg(0)), zap.Error(err))
	}
}

func run(m migrator, args []string, log *zap.Logger) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "up":
		if err := m.Up(); err != nil {
			return err
		}
		return logVersion(m, log, "schema up to date")

	case "down":
		if err := m.Down(); err != nil {
			return err
		}
		return logVersion(m, log, "rolled back one migration")

	case "down-to":
		if len(args) != 2 {
			return errUsage
		}
		target, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || target < 0 {
			return fmt.Errorf("invalid target version %q", args[1])
		}
		if err := m.DownTo(target); err != nil {
			return err
		}
		return logVersion(m, log, "rolled back")

	case "status":
		return m.Status()

	case "version":
		return logVersion(m, log, "migration version")

	case "reset":
		if err := m.Reset(); err != nil {
			return err
		}
		return logVersion(m, log, "schema reset and reapplied")

	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func logVersion(m migrator, log *zap.Logger, msg string) error {
	current, err := m.GetCurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	latest, err := m.GetLatestVersion()
	if err != nil {
		return fmt.Errorf("failed to read latest migration: %w", err)
	}

	log.Info(msg,
		zap.Int64("current", current),
		zap.Int64("latest", latest),
		zap.Int64("pending", latest-current),
	)
	return nil
}
