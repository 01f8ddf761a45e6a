package models

import (
	"github.com/google/uuid"
	"time"
)

// Meeting is a named container of ordered stages.
type Meeting struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionStatus defines the status of a meeting run.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// Session records one run of a meeting's countdown.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	MeetingID uuid.UUID     `json:"meeting_id"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// StageProgress is the elapsed time recorded for a stage within a session.
type StageProgress struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	StageID    uuid.UUID `json:"stage_id"`
	ElapsedSec int       `json:"elapsed_sec"`
	Completed  bool      `json:"completed"`
	RecordedAt time.Time `json:"recorded_at"`
}
