package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/directorio/directorio/go/internal/meetings/db"
	"github.com/directorio/directorio/go/internal/models"
	"github.com/directorio/directorio/go/internal/sqlutil"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	ListMeetings(ctx context.Context) ([]db.Meeting, error)
	GetMeeting(ctx context.Context, id uuid.UUID) (db.Meeting, error)
	CreateMeeting(ctx context.Context, arg db.CreateMeetingParams) (db.Meeting, error)
	UpdateMeeting(ctx context.Context, arg db.UpdateMeetingParams) (db.Meeting, error)
	DeleteMeeting(ctx context.Context, id uuid.UUID) (int64, error)
	ListStagesByMeeting(ctx context.Context, meetingID uuid.UUID) ([]db.Stage, error)
	CountStagesByMeeting(ctx context.Context, meetingID uuid.UUID) (int64, error)
	GetStage(ctx context.Context, id uuid.UUID) (db.Stage, error)
	CreateStage(ctx context.Context, arg db.CreateStageParams) (db.Stage, error)
	UpdateStage(ctx context.Context, arg db.UpdateStageParams) (db.Stage, error)
	SetStageCompleted(ctx context.Context, arg db.SetStageCompletedParams) (db.Stage, error)
	SetStageOrderIndex(ctx context.Context, arg db.SetStageOrderIndexParams) error
	DeleteStage(ctx context.Context, id uuid.UUID) (int64, error)
	CreateSession(ctx context.Context, arg db.CreateSessionParams) (db.MeetingSession, error)
	EndSession(ctx context.Context, arg db.EndSessionParams) (db.MeetingSession, error)
	UpsertStageProgress(ctx context.Context, arg db.UpsertStageProgressParams) (db.StageProgress, error)
}

// Repository implements meeting and stage data access operations
type Repository struct {
	queries  Querier
	database *sql.DB
}

// NewRepository creates a new meetings repository. database may be nil, in
// which case multi-statement operations run without a transaction.
func NewRepository(querier Querier, database *sql.DB) *Repository {
	return &Repository{
		queries:  querier,
		database: database,
	}
}

func (r *Repository) inTx(ctx context.Context, fn func(q Querier) error) error {
	if r.database == nil {
		return fn(r.queries)
	}
	return sqlutil.Run(ctx, r.database, func(tx *sql.Tx) Querier { return db.New(tx) }, fn)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// ListMeetings returns all meetings, most recent first
func (r *Repository) ListMeetings(ctx context.Context) ([]models.Meeting, error) {
	rows, err := r.queries.ListMeetings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings: %w", err)
	}
	meetings := make([]models.Meeting, 0, len(rows))
	for _, row := range rows {
		meetings = append(meetings, dbMeetingToModel(row))
	}
	return meetings, nil
}

// GetMeeting retrieves a meeting by ID
func (r *Repository) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	row, err := r.queries.GetMeeting(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", notFound(err, "meeting "+id.String()))
	}
	m := dbMeetingToModel(row)
	return &m, nil
}

// CreateMeeting creates a new meeting
func (r *Repository) CreateMeeting(ctx context.Context, req CreateMeetingRequest) (*models.Meeting, error) {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	row, err := r.queries.CreateMeeting(ctx, db.CreateMeetingParams{
		ID:          uuid.New(),
		Title:       req.Title,
		Description: sqlutil.ToSqlString(req.Description),
		Active:      active,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}
	m := dbMeetingToModel(row)
	return &m, nil
}

// UpdateMeeting updates an existing meeting
func (r *Repository) UpdateMeeting(ctx context.Context, id uuid.UUID, req UpdateMeetingRequest) (*models.Meeting, error) {
	row, err := r.queries.UpdateMeeting(ctx, db.UpdateMeetingParams{
		ID:          id,
		Title:       req.Title,
		Description: sqlutil.ToSqlString(req.Description),
		Active:      req.Active,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update meeting: %w", notFound(err, "meeting "+id.String()))
	}
	m := dbMeetingToModel(row)
	return &m, nil
}

// DeleteMeeting deletes a meeting; its stages go with it
func (r *Repository) DeleteMeeting(ctx context.Context, id uuid.UUID) error {
	n, err := r.queries.DeleteMeeting(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete meeting: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("meeting %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListStages returns a meeting's stages ordered by order index
func (r *Repository) ListStages(ctx context.Context, meetingID uuid.UUID) ([]models.Stage, error) {
	rows, err := r.queries.ListStagesByMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	return dbStagesToModels(rows)
}

// GetStage retrieves a stage by ID
func (r *Repository) GetStage(ctx context.Context, id uuid.UUID) (*models.Stage, error) {
	row, err := r.queries.GetStage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage: %w", notFound(err, "stage "+id.String()))
	}
	return dbStageToModel(row)
}

// AppendStage inserts a stage at the next zero-based order index
func (r *Repository) AppendStage(ctx context.Context, meetingID uuid.UUID, req CreateStageRequest) (*models.Stage, error) {
	var created *models.Stage
	err := r.inTx(ctx, func(q Querier) error {
		count, err := q.CountStagesByMeeting(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("count stages: %w", err)
		}
		colors, err := sqlutil.ToNullJSON(req.Colors)
		if err != nil {
			return err
		}
		row, err := q.CreateStage(ctx, db.CreateStageParams{
			ID:           uuid.New(),
			MeetingID:    meetingID,
			Title:        req.Title,
			DurationSec:  int32(req.DurationSec),
			OrderIndex:   int32(count),
			Colors:       colors,
			AlertColor:   sqlutil.ToSqlString(req.AlertColor),
			AlertLeadSec: sqlutil.ToSqlInt32(req.AlertLeadSec),
		})
		if err != nil {
			return fmt.Errorf("insert stage: %w", err)
		}
		created, err = dbStageToModel(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create stage: %w", err)
	}
	return created, nil
}

// UpdateStage updates a stage's title, duration and colors
func (r *Repository) UpdateStage(ctx context.Context, id uuid.UUID, req UpdateStageRequest) (*models.Stage, error) {
	colors, err := sqlutil.ToNullJSON(req.Colors)
	if err != nil {
		return nil, err
	}
	row, err := r.queries.UpdateStage(ctx, db.UpdateStageParams{
		ID:           id,
		Title:        req.Title,
		DurationSec:  int32(req.DurationSec),
		Colors:       colors,
		AlertColor:   sqlutil.ToSqlString(req.AlertColor),
		AlertLeadSec: sqlutil.ToSqlInt32(req.AlertLeadSec),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update stage: %w", notFound(err, "stage "+id.String()))
	}
	return dbStageToModel(row)
}

// SetStageCompleted flips a stage's completion flag
func (r *Repository) SetStageCompleted(ctx context.Context, id uuid.UUID, completed bool) (*models.Stage, error) {
	row, err := r.queries.SetStageCompleted(ctx, db.SetStageCompletedParams{ID: id, Completed: completed})
	if err != nil {
		return nil, fmt.Errorf("failed to update stage completion: %w", notFound(err, "stage "+id.String()))
	}
	return dbStageToModel(row)
}

// DeleteStage removes a stage and re-indexes the remaining ones to a
// contiguous zero-based sequence
func (r *Repository) DeleteStage(ctx context.Context, id uuid.UUID) error {
	err := r.inTx(ctx, func(q Querier) error {
		stage, err := q.GetStage(ctx, id)
		if err != nil {
			return notFound(err, "stage "+id.String())
		}
		if _, err := q.DeleteStage(ctx, id); err != nil {
			return fmt.Errorf("delete stage: %w", err)
		}
		remaining, err := q.ListStagesByMeeting(ctx, stage.MeetingID)
		if err != nil {
			return fmt.Errorf("list remaining stages: %w", err)
		}
		for i, s := range remaining {
			if int(s.OrderIndex) == i {
				continue
			}
			if err := q.SetStageOrderIndex(ctx, db.SetStageOrderIndexParams{ID: s.ID, OrderIndex: int32(i)}); err != nil {
				return fmt.Errorf("reindex stage %s: %w", s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete stage: %w", err)
	}
	return nil
}

// CreateSession records the start of a meeting run
func (r *Repository) CreateSession(ctx context.Context, meetingID uuid.UUID) (*models.Session, error) {
	row, err := r.queries.CreateSession(ctx, db.CreateSessionParams{
		ID:        uuid.New(),
		MeetingID: meetingID,
		Status:    string(models.SessionStatusRunning),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s := dbSessionToModel(row)
	return &s, nil
}

// EndSession marks a meeting run as completed
func (r *Repository) EndSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row, err := r.queries.EndSession(ctx, db.EndSessionParams{ID: id, Status: string(models.SessionStatusCompleted)})
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", notFound(err, "session "+id.String()))
	}
	s := dbSessionToModel(row)
	return &s, nil
}

// RecordProgress upserts the progress of a stage within a session
func (r *Repository) RecordProgress(ctx context.Context, sessionID, stageID uuid.UUID, elapsedSec int, completed bool) (*models.StageProgress, error) {
	row, err := r.queries.UpsertStageProgress(ctx, db.UpsertStageProgressParams{
		ID:         uuid.New(),
		SessionID:  sessionID,
		StageID:    stageID,
		ElapsedSec: int32(elapsedSec),
		Completed:  completed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record progress: %w", err)
	}
	return &models.StageProgress{
		ID:         row.ID,
		SessionID:  row.SessionID,
		StageID:    row.StageID,
		ElapsedSec: int(row.ElapsedSec),
		Completed:  row.Completed,
		RecordedAt: row.RecordedAt,
	}, nil
}

func dbMeetingToModel(row db.Meeting) models.Meeting {
	return models.Meeting{
		ID:          row.ID,
		Title:       row.Title,
		Description: sqlutil.FromSqlStringPtr(row.Description),
		Active:      row.Active,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func dbStageToModel(row db.Stage) (*models.Stage, error) {
	colors, err := sqlutil.FromNullJSON[models.ColorThreshold](row.Colors)
	if err != nil {
		return nil, fmt.Errorf("stage %s colors: %w", row.ID, err)
	}
	return &models.Stage{
		ID:           row.ID,
		MeetingID:    row.MeetingID,
		Title:        row.Title,
		DurationSec:  int(row.DurationSec),
		OrderIndex:   int(row.OrderIndex),
		Completed:    row.Completed,
		Colors:       colors,
		AlertColor:   sqlutil.FromSqlStringPtr(row.AlertColor),
		AlertLeadSec: sqlutil.FromSqlInt32(row.AlertLeadSec),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func dbStagesToModels(rows []db.Stage) ([]models.Stage, error) {
	stages := make([]models.Stage, 0, len(rows))
	for _, row := range rows {
		s, err := dbStageToModel(row)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *s)
	}
	return stages, nil
}

func dbSessionToModel(row db.MeetingSession) models.Session {
	return models.Session{
		ID:        row.ID,
		MeetingID: row.MeetingID,
		Status:    models.SessionStatus(row.Status),
		StartedAt: row.StartedAt,
		EndedAt:   sqlutil.FromSqlTime(row.EndedAt),
	}
}
