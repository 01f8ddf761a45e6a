package meetings

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/directorio/directorio/go/internal/meetings/db"
)

// fakeQuerier is an in-memory stand-in for the Postgres query layer.
type fakeQuerier struct {
	mu       sync.Mutex
	now      time.Time
	meetings map[uuid.UUID]db.Meeting
	stages   map[uuid.UUID]db.Stage
	sessions map[uuid.UUID]db.MeetingSession
	progress map[[2]uuid.UUID]db.StageProgress
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		now:      time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		meetings: make(map[uuid.UUID]db.Meeting),
		stages:   make(map[uuid.UUID]db.Stage),
		sessions: make(map[uuid.UUID]db.MeetingSession),
		progress: make(map[[2]uuid.UUID]db.StageProgress),
	}
}

func (f *fakeQuerier) tick() time.Time {
	f.now = f.now.Add(time.Minute)
	return f.now
}

func (f *fakeQuerier) ListMeetings(ctx context.Context) ([]db.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]db.Meeting, 0, len(f.meetings))
	for _, m := range f.meetings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeQuerier) GetMeeting(ctx context.Context, id uuid.UUID) (db.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[id]
	if !ok {
		return db.Meeting{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeQuerier) CreateMeeting(ctx context.Context, arg db.CreateMeetingParams) (db.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	m := db.Meeting{ID: arg.ID, Title: arg.Title, Description: arg.Description, Active: arg.Active, CreatedAt: now, UpdatedAt: now}
	f.meetings[m.ID] = m
	return m, nil
}

func (f *fakeQuerier) UpdateMeeting(ctx context.Context, arg db.UpdateMeetingParams) (db.Meeting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meetings[arg.ID]
	if !ok {
		return db.Meeting{}, sql.ErrNoRows
	}
	m.Title, m.Description, m.Active, m.UpdatedAt = arg.Title, arg.Description, arg.Active, f.tick()
	f.meetings[m.ID] = m
	return m, nil
}

func (f *fakeQuerier) DeleteMeeting(ctx context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.meetings[id]; !ok {
		return 0, nil
	}
	delete(f.meetings, id)
	for sid, s := range f.stages {
		if s.MeetingID == id {
			delete(f.stages, sid)
		}
	}
	return 1, nil
}

func (f *fakeQuerier) ListStagesByMeeting(ctx context.Context, meetingID uuid.UUID) ([]db.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.Stage
	for _, s := range f.stages {
		if s.MeetingID == meetingID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (f *fakeQuerier) CountStagesByMeeting(ctx context.Context, meetingID uuid.UUID) (int64, error) {
	stages, _ := f.ListStagesByMeeting(ctx, meetingID)
	return int64(len(stages)), nil
}

func (f *fakeQuerier) GetStage(ctx context.Context, id uuid.UUID) (db.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stages[id]
	if !ok {
		return db.Stage{}, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeQuerier) CreateStage(ctx context.Context, arg db.CreateStageParams) (db.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	s := db.Stage{
		ID: arg.ID, MeetingID: arg.MeetingID, Title: arg.Title, DurationSec: arg.DurationSec,
		OrderIndex: arg.OrderIndex, Colors: arg.Colors, AlertColor: arg.AlertColor,
		AlertLeadSec: arg.AlertLeadSec, CreatedAt: now, UpdatedAt: now,
	}
	f.stages[s.ID] = s
	return s, nil
}

func (f *fakeQuerier) UpdateStage(ctx context.Context, arg db.UpdateStageParams) (db.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stages[arg.ID]
	if !ok {
		return db.Stage{}, sql.ErrNoRows
	}
	s.Title, s.DurationSec, s.Colors = arg.Title, arg.DurationSec, arg.Colors
	s.AlertColor, s.AlertLeadSec, s.UpdatedAt = arg.AlertColor, arg.AlertLeadSec, f.tick()
	f.stages[s.ID] = s
	return s, nil
}

func (f *fakeQuerier) SetStageCompleted(ctx context.Context, arg db.SetStageCompletedParams) (db.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stages[arg.ID]
	if !ok {
		return db.Stage{}, sql.ErrNoRows
	}
	s.Completed = arg.Completed
	f.stages[s.ID] = s
	return s, nil
}

func (f *fakeQuerier) SetStageOrderIndex(ctx context.Context, arg db.SetStageOrderIndexParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stages[arg.ID]
	if !ok {
		return sql.ErrNoRows
	}
	s.OrderIndex = arg.OrderIndex
	f.stages[s.ID] = s
	return nil
}

func (f *fakeQuerier) DeleteStage(ctx context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.stages[id]; !ok {
		return 0, nil
	}
	delete(f.stages, id)
	return 1, nil
}

func (f *fakeQuerier) CreateSession(ctx context.Context, arg db.CreateSessionParams) (db.MeetingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := db.MeetingSession{ID: arg.ID, MeetingID: arg.MeetingID, Status: arg.Status, StartedAt: f.tick()}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeQuerier) EndSession(ctx context.Context, arg db.EndSessionParams) (db.MeetingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[arg.ID]
	if !ok {
		return db.MeetingSession{}, sql.ErrNoRows
	}
	s.Status = arg.Status
	s.EndedAt = sql.NullTime{Time: f.tick(), Valid: true}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeQuerier) UpsertStageProgress(ctx context.Context, arg db.UpsertStageProgressParams) (db.StageProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]uuid.UUID{arg.SessionID, arg.StageID}
	p, ok := f.progress[key]
	if !ok {
		p = db.StageProgress{ID: arg.ID, SessionID: arg.SessionID, StageID: arg.StageID}
	}
	p.ElapsedSec, p.Completed, p.RecordedAt = arg.ElapsedSec, arg.Completed, f.tick()
	f.progress[key] = p
	return p, nil
}
