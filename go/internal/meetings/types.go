package meetings

import (
	"github.com/directorio/directorio/go/internal/models"
)

// CreateMeetingRequest represents the data needed to create a new meeting
type CreateMeetingRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// UpdateMeetingRequest represents the data that can be updated for a meeting
type UpdateMeetingRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Active      bool    `json:"active"`
}

// CreateStageRequest represents a stage appended to the end of a meeting
type CreateStageRequest struct {
	Title        string                  `json:"title"`
	DurationSec  int                     `json:"duration_sec"`
	Colors       []models.ColorThreshold `json:"colors,omitempty"`
	AlertColor   *string                 `json:"alert_color,omitempty"`
	AlertLeadSec *int                    `json:"alert_lead_sec,omitempty"`
}

// UpdateStageRequest represents an inline edit of a stage
type UpdateStageRequest struct {
	Title        string                  `json:"title"`
	DurationSec  int                     `json:"duration_sec"`
	Colors       []models.ColorThreshold `json:"colors,omitempty"`
	AlertColor   *string                 `json:"alert_color,omitempty"`
	AlertLeadSec *int                    `json:"alert_lead_sec,omitempty"`
}

// RecordProgressRequest records how far a session got through a stage
type RecordProgressRequest struct {
	StageID    string `json:"stage_id"`
	ElapsedSec int    `json:"elapsed_sec"`
	Completed  bool   `json:"completed"`
}

// MeetingWithStages is a meeting together with its ordered stages
type MeetingWithStages struct {
	models.Meeting
	Stages []models.Stage `json:"stages"`
}
