package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const meetingColumns = `id, title, description, active, created_at, updated_at`

const stageColumns = `id, meeting_id, title, duration_sec, order_index, completed, colors, alert_color, alert_lead_sec, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeeting(row rowScanner) (Meeting, error) {
	var i Meeting
	err := row.Scan(&i.ID, &i.Title, &i.Description, &i.Active, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func scanStage(row rowScanner) (Stage, error) {
	var i Stage
	err := row.Scan(
		&i.ID, &i.MeetingID, &i.Title, &i.DurationSec, &i.OrderIndex, &i.Completed,
		&i.Colors, &i.AlertColor, &i.AlertLeadSec, &i.CreatedAt, &i.UpdatedAt,
	)
	return i, err
}

const listMeetings = `SELECT ` + meetingColumns + ` FROM meetings ORDER BY created_at DESC`

func (q *Queries) ListMeetings(ctx context.Context) ([]Meeting, error) {
	rows, err := q.db.QueryContext(ctx, listMeetings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Meeting
	for rows.Next() {
		i, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getMeeting = `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`

func (q *Queries) GetMeeting(ctx context.Context, id uuid.UUID) (Meeting, error) {
	return scanMeeting(q.db.QueryRowContext(ctx, getMeeting, id))
}

const createMeeting = `INSERT INTO meetings (id, title, description, active)
VALUES ($1, $2, $3, $4)
RETURNING ` + meetingColumns

type CreateMeetingParams struct {
	ID          uuid.UUID
	Title       string
	Description sql.NullString
	Active      bool
}

func (q *Queries) CreateMeeting(ctx context.Context, arg CreateMeetingParams) (Meeting, error) {
	row := q.db.QueryRowContext(ctx, createMeeting, arg.ID, arg.Title, arg.Description, arg.Active)
	return scanMeeting(row)
}

const updateMeeting = `UPDATE meetings
SET title = $2, description = $3, active = $4, updated_at = now()
WHERE id = $1
RETURNING ` + meetingColumns

type UpdateMeetingParams struct {
	ID          uuid.UUID
	Title       string
	Description sql.NullString
	Active      bool
}

func (q *Queries) UpdateMeeting(ctx context.Context, arg UpdateMeetingParams) (Meeting, error) {
	row := q.db.QueryRowContext(ctx, updateMeeting, arg.ID, arg.Title, arg.Description, arg.Active)
	return scanMeeting(row)
}

const deleteMeeting = `DELETE FROM meetings WHERE id = $1`

func (q *Queries) DeleteMeeting(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteMeeting, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listStagesByMeeting = `SELECT ` + stageColumns + ` FROM stages WHERE meeting_id = $1 ORDER BY order_index ASC`

func (q *Queries) ListStagesByMeeting(ctx context.Context, meetingID uuid.UUID) ([]Stage, error) {
	rows, err := q.db.QueryContext(ctx, listStagesByMeeting, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Stage
	for rows.Next() {
		i, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countStagesByMeeting = `SELECT count(*) FROM stages WHERE meeting_id = $1`

func (q *Queries) CountStagesByMeeting(ctx context.Context, meetingID uuid.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countStagesByMeeting, meetingID).Scan(&count)
	return count, err
}

const getStage = `SELECT ` + stageColumns + ` FROM stages WHERE id = $1`

func (q *Queries) GetStage(ctx context.Context, id uuid.UUID) (Stage, error) {
	return scanStage(q.db.QueryRowContext(ctx, getStage, id))
}

const createStage = `INSERT INTO stages (id, meeting_id, title, duration_sec, order_index, colors, alert_color, alert_lead_sec)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + stageColumns

type CreateStageParams struct {
	ID           uuid.UUID
	MeetingID    uuid.UUID
	Title        string
	DurationSec  int32
	OrderIndex   int32
	Colors       pqtype.NullRawMessage
	AlertColor   sql.NullString
	AlertLeadSec sql.NullInt32
}

func (q *Queries) CreateStage(ctx context.Context, arg CreateStageParams) (Stage, error) {
	row := q.db.QueryRowContext(ctx, createStage,
		arg.ID, arg.MeetingID, arg.Title, arg.DurationSec, arg.OrderIndex,
		arg.Colors, arg.AlertColor, arg.AlertLeadSec,
	)
	return scanStage(row)
}

const updateStage = `UPDATE stages
SET title = $2, duration_sec = $3, colors = $4, alert_color = $5, alert_lead_sec = $6, updated_at = now()
WHERE id = $1
RETURNING ` + stageColumns

type UpdateStageParams struct {
	ID           uuid.UUID
	Title        string
	DurationSec  int32
	Colors       pqtype.NullRawMessage
	AlertColor   sql.NullString
	AlertLeadSec sql.NullInt32
}

func (q *Queries) UpdateStage(ctx context.Context, arg UpdateStageParams) (Stage, error) {
	row := q.db.QueryRowContext(ctx, updateStage,
		arg.ID, arg.Title, arg.DurationSec, arg.Colors, arg.AlertColor, arg.AlertLeadSec,
	)
	return scanStage(row)
}

const setStageCompleted = `UPDATE stages SET completed = $2, updated_at = now() WHERE id = $1 RETURNING ` + stageColumns

type SetStageCompletedParams struct {
	ID        uuid.UUID
	Completed bool
}

func (q *Queries) SetStageCompleted(ctx context.Context, arg SetStageCompletedParams) (Stage, error) {
	return scanStage(q.db.QueryRowContext(ctx, setStageCompleted, arg.ID, arg.Completed))
}

const setStageOrderIndex = `UPDATE stages SET order_index = $2, updated_at = now() WHERE id = $1`

type SetStageOrderIndexParams struct {
	ID         uuid.UUID
	OrderIndex int32
}

func (q *Queries) SetStageOrderIndex(ctx context.Context, arg SetStageOrderIndexParams) error {
	_, err := q.db.ExecContext(ctx, setStageOrderIndex, arg.ID, arg.OrderIndex)
	return err
}

const deleteStage = `DELETE FROM stages WHERE id = $1`

func (q *Queries) DeleteStage(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteStage, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createSession = `INSERT INTO meeting_sessions (id, meeting_id, status)
VALUES ($1, $2, $3)
RETURNING id, meeting_id, status, started_at, ended_at`

type CreateSessionParams struct {
	ID        uuid.UUID
	MeetingID uuid.UUID
	Status    string
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (MeetingSession, error) {
	var i MeetingSession
	err := q.db.QueryRowContext(ctx, createSession, arg.ID, arg.MeetingID, arg.Status).
		Scan(&i.ID, &i.MeetingID, &i.Status, &i.StartedAt, &i.EndedAt)
	return i, err
}

const endSession = `UPDATE meeting_sessions SET status = $2, ended_at = now() WHERE id = $1
RETURNING id, meeting_id, status, started_at, ended_at`

type EndSessionParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) EndSession(ctx context.Context, arg EndSessionParams) (MeetingSession, error) {
	var i MeetingSession
	err := q.db.QueryRowContext(ctx, endSession, arg.ID, arg.Status).
		Scan(&i.ID, &i.MeetingID, &i.Status, &i.StartedAt, &i.EndedAt)
	return i, err
}

const upsertStageProgress = `INSERT INTO stage_progress (id, session_id, stage_id, elapsed_sec, completed)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, stage_id) DO UPDATE
SET elapsed_sec = EXCLUDED.elapsed_sec, completed = EXCLUDED.completed, recorded_at = now()
RETURNING id, session_id, stage_id, elapsed_sec, completed, recorded_at`

type UpsertStageProgressParams struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	StageID    uuid.UUID
	ElapsedSec int32
	Completed  bool
}

func (q *Queries) UpsertStageProgress(ctx context.Context, arg UpsertStageProgressParams) (StageProgress, error) {
	var i StageProgress
	err := q.db.QueryRowContext(ctx, upsertStageProgress,
		arg.ID, arg.SessionID, arg.StageID, arg.ElapsedSec, arg.Completed,
	).Scan(&i.ID, &i.SessionID, &i.StageID, &i.ElapsedSec, &i.Completed, &i.RecordedAt)
	return i, err
}
