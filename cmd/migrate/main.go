package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/db"
	"github.com/hackgods/appointment-engine/internal/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.PostgresDSN == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migrator")
		}
	}()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("usage: migrate force <version>")
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("invalid version")
		}
		err = m.Force(version)
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil {
			logger.Fatal().Err(verr).Msg("read version")
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command, want up, down, version or force")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	logger.Info().Str("command", cmd).Msg("migrations complete")
}
