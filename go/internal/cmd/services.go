package main

import (
	"database/sql"

	"github.com/directorio/directorio/go/internal/meetings"
	meetingsdb "github.com/directorio/directorio/go/internal/meetings/db"
)

type Services struct {
	Meetings *meetings.Service
}

func setupServices(database *sql.DB) *Services {
	// Database layer → Repository layer → App layer → Service layer
	queries := meetingsdb.New(database)
	meetingsRepo := meetings.NewRepository(queries, database)
	meetingsApp := meetings.NewApp(meetingsRepo)
	meetingsService := meetings.NewService(meetingsApp)

	return &Services{
		Meetings: meetingsService,
	}
}
