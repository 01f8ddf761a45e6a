package meetings

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/directorio/directorio/go/internal/models"
)

func newTestRepository(t *testing.T) (*Repository, *fakeQuerier) {
	t.Helper()
	q := newFakeQuerier()
	return NewRepository(q, nil), q
}

func TestRepository_AppendStageIsZeroBased(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	meeting, err := repo.CreateMeeting(ctx, CreateMeetingRequest{Title: "Standup"})
	if err != nil {
		t.Fatalf("CreateMeeting: %v", err)
	}
	if !meeting.Active {
		t.Fatal("meetings are active by default")
	}

	for i, title := range []string{"Intro", "Updates", "Wrap-up"} {
		stage, err := repo.AppendStage(ctx, meeting.ID, CreateStageRequest{Title: title, DurationSec: 60})
		if err != nil {
			t.Fatalf("AppendStage(%s): %v", title, err)
		}
		if stage.OrderIndex != i {
			t.Fatalf("stage %q order index = %d, want %d", title, stage.OrderIndex, i)
		}
	}
}

func TestRepository_DeleteStageReindexes(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	meeting, _ := repo.CreateMeeting(ctx, CreateMeetingRequest{Title: "Planning"})
	var ids []uuid.UUID
	for _, title := range []string{"a", "b", "c", "d"} {
		s, err := repo.AppendStage(ctx, meeting.ID, CreateStageRequest{Title: title, DurationSec: 30})
		if err != nil {
			t.Fatalf("AppendStage: %v", err)
		}
		ids = append(ids, s.ID)
	}

	if err := repo.DeleteStage(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteStage: %v", err)
	}

	stages, err := repo.ListStages(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("ListStages: %v", err)
	}
	wantTitles := []string{"a", "c", "d"}
	if len(stages) != len(wantTitles) {
		t.Fatalf("got %d stages, want %d", len(stages), len(wantTitles))
	}
	for i, s := range stages {
		if s.OrderIndex != i || s.Title != wantTitles[i] {
			t.Errorf("stage %d = (%d, %q), want (%d, %q)", i, s.OrderIndex, s.Title, i, wantTitles[i])
		}
	}

	next, err := repo.AppendStage(ctx, meeting.ID, CreateStageRequest{Title: "e", DurationSec: 30})
	if err != nil {
		t.Fatalf("AppendStage: %v", err)
	}
	if next.OrderIndex != 3 {
		t.Fatalf("append after delete got index %d, want 3", next.OrderIndex)
	}
}

func TestRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	if _, err := repo.GetMeeting(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetMeeting err = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteMeeting(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteMeeting err = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteStage(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteStage err = %v, want ErrNotFound", err)
	}
	if _, err := repo.UpdateStage(ctx, uuid.New(), UpdateStageRequest{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStage err = %v, want ErrNotFound", err)
	}
}

func TestRepository_StageColorsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	meeting, _ := repo.CreateMeeting(ctx, CreateMeetingRequest{Title: "Retro"})
	alert := "#ff0000"
	lead := 30
	created, err := repo.AppendStage(ctx, meeting.ID, CreateStageRequest{
		Title:       "Discuss",
		DurationSec: 600,
		Colors: []models.ColorThreshold{
			{At: 0, Unit: models.ThresholdUnitSeconds, Color: "#00aa00"},
			{At: 80, Unit: models.ThresholdUnitPercent, Color: "#ffaa00"},
		},
		AlertColor:   &alert,
		AlertLeadSec: &lead,
	})
	if err != nil {
		t.Fatalf("AppendStage: %v", err)
	}

	got, err := repo.GetStage(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetStage: %v", err)
	}
	if len(got.Colors) != 2 || got.Colors[1].Unit != models.ThresholdUnitPercent {
		t.Fatalf("colors = %+v", got.Colors)
	}
	if got.AlertColor == nil || *got.AlertColor != alert || got.AlertLeadSec == nil || *got.AlertLeadSec != lead {
		t.Fatalf("alert settings not persisted: %+v", got)
	}
}

func TestRepository_DeleteMeetingCascades(t *testing.T) {
	ctx := context.Background()
	repo, q := newTestRepository(t)

	meeting, _ := repo.CreateMeeting(ctx, CreateMeetingRequest{Title: "Review"})
	if _, err := repo.AppendStage(ctx, meeting.ID, CreateStageRequest{Title: "Demo", DurationSec: 300}); err != nil {
		t.Fatalf("AppendStage: %v", err)
	}
	if err := repo.DeleteMeeting(ctx, meeting.ID); err != nil {
		t.Fatalf("DeleteMeeting: %v", err)
	}
	if len(q.stages) != 0 {
		t.Fatalf("expected stages to be deleted with their meeting, %d left", len(q.stages))
	}
}
