package models

import (
	"github.com/google/uuid"
	"time"
)

// ThresholdUnit says how a color threshold's At value is measured.
type ThresholdUnit string

const (
	ThresholdUnitSeconds ThresholdUnit = "seconds"
	ThresholdUnitPercent ThresholdUnit = "percent"
)

// ColorThreshold switches the background to Color once the elapsed time
// in a stage reaches At.
type ColorThreshold struct {
	At    int           `json:"at"`
	Unit  ThresholdUnit `json:"unit"`
	Color string        `json:"color"`
}

// Stage is an ordered, timed unit of a meeting. OrderIndex is zero-based
// and contiguous within a meeting.
type Stage struct {
	ID           uuid.UUID        `json:"id"`
	MeetingID    uuid.UUID        `json:"meeting_id"`
	Title        string           `json:"title"`
	DurationSec  int              `json:"duration_sec"`
	OrderIndex   int              `json:"order_index"`
	Completed    bool             `json:"completed"`
	Colors       []ColorThreshold `json:"colors,omitempty"`
	AlertColor   *string          `json:"alert_color,omitempty"`
	AlertLeadSec *int             `json:"alert_lead_sec,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
