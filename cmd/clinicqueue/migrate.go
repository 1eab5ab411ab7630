package main

import (
	"path/filepath"

	"clinicqueue/internal/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func migrateCommand(cfg config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(_ *cobra.Command, args []string) error {
			if err := cfg.ValidateDatabase(); err != nil {
				return err
			}
			return runMigrations(cfg, args[0], logger)
		},
	}
}

func runMigrations(cfg config.Config, direction string, logger zerolog.Logger) error {
	dir, err := filepath.Abs(cfg.MigrationsDir)
	if err != nil {
		return errors.Wrap(err, "resolve migrations dir")
	}
	m, err := migrate.New("file://"+filepath.ToSlash(dir), cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "open migrations")
	}
	defer m.Close()

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return errors.Errorf("migration command %s is not supported", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info().Str("direction", direction).Msg("migrations already current")
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "migrate %s", direction)
	}
	version, dirty, _ := m.Version()
	logger.Info().Str("direction", direction).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}
