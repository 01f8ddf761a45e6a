package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Meeting struct {
	ID          uuid.UUID
	Title       string
	Description sql.NullString
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Stage struct {
	ID           uuid.UUID
	MeetingID    uuid.UUID
	Title        string
	DurationSec  int32
	OrderIndex   int32
	Completed    bool
	Colors       pqtype.NullRawMessage
	AlertColor   sql.NullString
	AlertLeadSec sql.NullInt32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MeetingSession struct {
	ID        uuid.UUID
	MeetingID uuid.UUID
	Status    string
	StartedAt time.Time
	EndedAt   sql.NullTime
}

type StageProgress struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	StageID    uuid.UUID
	ElapsedSec int32
	Completed  bool
	RecordedAt time.Time
}
