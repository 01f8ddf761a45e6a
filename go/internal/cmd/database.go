package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/dbconfig"
	meetingsdb "github.com/directorio/directorio/go/internal/meetings/db"
)

func setupDatabase(ctx context.Context, cfg ServerConfig) (*sql.DB, error) {
	dbConfig := dbconfig.NewConfigFromEnv()
	if err := dbConfig.Validate(); err != nil {
		return nil, err
	}

	database, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	database.SetMaxOpenConns(10)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("connected to database")

	if cfg.AutoMigrate {
		if err := meetingsdb.Migrate(ctx, database); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		log.Info().Msg("database schema applied")
	}

	return database, nil
}
