package meetings

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/models"
)

const maxTitleLength = 200

// MeetingsRepository defines what the app layer needs from the repository
type MeetingsRepository interface {
	ListMeetings(ctx context.Context) ([]models.Meeting, error)
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	CreateMeeting(ctx context.Context, req CreateMeetingRequest) (*models.Meeting, error)
	UpdateMeeting(ctx context.Context, id uuid.UUID, req UpdateMeetingRequest) (*models.Meeting, error)
	DeleteMeeting(ctx context.Context, id uuid.UUID) error
	ListStages(ctx context.Context, meetingID uuid.UUID) ([]models.Stage, error)
	GetStage(ctx context.Context, id uuid.UUID) (*models.Stage, error)
	AppendStage(ctx context.Context, meetingID uuid.UUID, req CreateStageRequest) (*models.Stage, error)
	UpdateStage(ctx context.Context, id uuid.UUID, req UpdateStageRequest) (*models.Stage, error)
	SetStageCompleted(ctx context.Context, id uuid.UUID, completed bool) (*models.Stage, error)
	DeleteStage(ctx context.Context, id uuid.UUID) error
	CreateSession(ctx context.Context, meetingID uuid.UUID) (*models.Session, error)
	EndSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	RecordProgress(ctx context.Context, sessionID, stageID uuid.UUID, elapsedSec int, completed bool) (*models.StageProgress, error)
}

// App handles meeting and stage business logic
type App struct {
	repo MeetingsRepository
}

// NewApp creates a new meetings App
func NewApp(repo MeetingsRepository) *App {
	return &App{
		repo: repo,
	}
}

// ListMeetings returns all meetings, most recent first
func (a *App) ListMeetings(ctx context.Context) ([]models.Meeting, error) {
	return a.repo.ListMeetings(ctx)
}

// GetMeeting retrieves a meeting together with its ordered stages
func (a *App) GetMeeting(ctx context.Context, id uuid.UUID) (*MeetingWithStages, error) {
	meeting, err := a.repo.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	stages, err := a.repo.ListStages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &MeetingWithStages{Meeting: *meeting, Stages: stages}, nil
}

// CreateMeeting creates a new meeting with validation
func (a *App) CreateMeeting(ctx context.Context, req CreateMeetingRequest) (*models.Meeting, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}

	meeting, err := a.repo.CreateMeeting(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().Str("meeting_id", meeting.ID.String()).Str("title", meeting.Title).Msg("created meeting")
	return meeting, nil
}

// UpdateMeeting updates an existing meeting with validation
func (a *App) UpdateMeeting(ctx context.Context, id uuid.UUID, req UpdateMeetingRequest) (*models.Meeting, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	return a.repo.UpdateMeeting(ctx, id, req)
}

// DeleteMeeting deletes a meeting and its stages
func (a *App) DeleteMeeting(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.DeleteMeeting(ctx, id); err != nil {
		return err
	}
	log.Info().Str("meeting_id", id.String()).Msg("deleted meeting")
	return nil
}

// ListStages returns a meeting's stages ordered by order index
func (a *App) ListStages(ctx context.Context, meetingID uuid.UUID) ([]models.Stage, error) {
	if _, err := a.repo.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return a.repo.ListStages(ctx, meetingID)
}

// CreateStage appends a stage to a meeting
func (a *App) CreateStage(ctx context.Context, meetingID uuid.UUID, req CreateStageRequest) (*models.Stage, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateStage(req.Title, req.DurationSec, req.Colors, req.AlertLeadSec); err != nil {
		return nil, err
	}
	if _, err := a.repo.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}

	stage, err := a.repo.AppendStage(ctx, meetingID, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("meeting_id", meetingID.String()).
		Str("stage_id", stage.ID.String()).
		Int("order_index", stage.OrderIndex).
		Msg("created stage")
	return stage, nil
}

// UpdateStage applies an inline edit to a stage
func (a *App) UpdateStage(ctx context.Context, id uuid.UUID, req UpdateStageRequest) (*models.Stage, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateStage(req.Title, req.DurationSec, req.Colors, req.AlertLeadSec); err != nil {
		return nil, err
	}
	return a.repo.UpdateStage(ctx, id, req)
}

// MarkStageCompleted sets a stage's completion flag
func (a *App) MarkStageCompleted(ctx context.Context, id uuid.UUID, completed bool) (*models.Stage, error) {
	return a.repo.SetStageCompleted(ctx, id, completed)
}

// DeleteStage deletes a stage and re-indexes the rest of the meeting
func (a *App) DeleteStage(ctx context.Context, id uuid.UUID) error {
	if err := a.repo.DeleteStage(ctx, id); err != nil {
		return err
	}
	log.Info().Str("stage_id", id.String()).Msg("deleted stage")
	return nil
}

// ImportStagesCSV parses a title,duration CSV and appends every row as a stage.
// Rows are validated up front so a bad file creates nothing.
func (a *App) ImportStagesCSV(ctx context.Context, meetingID uuid.UUID, r io.Reader) ([]models.Stage, error) {
	reqs, err := ParseStagesCSV(r)
	if err != nil {
		return nil, err
	}
	for i, req := range reqs {
		if err := validateStage(req.Title, req.DurationSec, nil, nil); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
	}
	if _, err := a.repo.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}

	created := make([]models.Stage, 0, len(reqs))
	for _, req := range reqs {
		stage, err := a.repo.AppendStage(ctx, meetingID, req)
		if err != nil {
			return created, err
		}
		created = append(created, *stage)
	}

	log.Info().Str("meeting_id", meetingID.String()).Int("stages", len(created)).Msg("imported stages")
	return created, nil
}

// StartSession records the start of a meeting run
func (a *App) StartSession(ctx context.Context, meetingID uuid.UUID) (*models.Session, error) {
	if _, err := a.repo.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return a.repo.CreateSession(ctx, meetingID)
}

// RecordProgress records elapsed time for a stage in a session
func (a *App) RecordProgress(ctx context.Context, sessionID uuid.UUID, req RecordProgressRequest) (*models.StageProgress, error) {
	stageID, err := uuid.Parse(req.StageID)
	if err != nil {
		return nil, fmt.Errorf("invalid stage_id: %w", ErrValidation)
	}
	if req.ElapsedSec < 0 {
		return nil, fmt.Errorf("elapsed_sec must not be negative: %w", ErrValidation)
	}
	return a.repo.RecordProgress(ctx, sessionID, stageID, req.ElapsedSec, req.Completed)
}

// EndSession marks a meeting run as completed
func (a *App) EndSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	return a.repo.EndSession(ctx, sessionID)
}

func validateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("title is required: %w", ErrValidation)
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("title longer than %d characters: %w", maxTitleLength, ErrValidation)
	}
	return nil
}

func validateStage(title string, durationSec int, colors []models.ColorThreshold, alertLeadSec *int) error {
	if err := validateTitle(title); err != nil {
		return err
	}
	if durationSec < 0 {
		return fmt.Errorf("duration_sec must not be negative: %w", ErrValidation)
	}
	if alertLeadSec != nil && *alertLeadSec < 0 {
		return fmt.Errorf("alert_lead_sec must not be negative: %w", ErrValidation)
	}
	for i, c := range colors {
		if c.At < 0 {
			return fmt.Errorf("colors[%d]: threshold must not be negative: %w", i, ErrValidation)
		}
		if c.Color == "" {
			return fmt.Errorf("colors[%d]: color is required: %w", i, ErrValidation)
		}
		switch c.Unit {
		case models.ThresholdUnitSeconds, "":
		case models.ThresholdUnitPercent:
			if c.At > 100 {
				return fmt.Errorf("colors[%d]: percent threshold above 100: %w", i, ErrValidation)
			}
		default:
			return fmt.Errorf("colors[%d]: unknown unit %q: %w", i, c.Unit, ErrValidation)
		}
	}
	return nil
}
