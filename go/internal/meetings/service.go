package meetings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/models"
)

const maxBodyBytes = 1 << 20

// MeetingsApp defines what the service layer needs from the meetings application
type MeetingsApp interface {
	ListMeetings(ctx context.Context) ([]models.Meeting, error)
	GetMeeting(ctx context.Context, id uuid.UUID) (*MeetingWithStages, error)
	CreateMeeting(ctx context.Context, req CreateMeetingRequest) (*models.Meeting, error)
	UpdateMeeting(ctx context.Context, id uuid.UUID, req UpdateMeetingRequest) (*models.Meeting, error)
	DeleteMeeting(ctx context.Context, id uuid.UUID) error
	ListStages(ctx context.Context, meetingID uuid.UUID) ([]models.Stage, error)
	CreateStage(ctx context.Context, meetingID uuid.UUID, req CreateStageRequest) (*models.Stage, error)
	UpdateStage(ctx context.Context, id uuid.UUID, req UpdateStageRequest) (*models.Stage, error)
	MarkStageCompleted(ctx context.Context, id uuid.UUID, completed bool) (*models.Stage, error)
	DeleteStage(ctx context.Context, id uuid.UUID) error
	ImportStagesCSV(ctx context.Context, meetingID uuid.UUID, r io.Reader) ([]models.Stage, error)
	StartSession(ctx context.Context, meetingID uuid.UUID) (*models.Session, error)
	RecordProgress(ctx context.Context, sessionID uuid.UUID, req RecordProgressRequest) (*models.StageProgress, error)
	EndSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
}

// Service exposes the meetings application as a JSON HTTP API
type Service struct {
	app MeetingsApp
}

// NewService creates a new meetings HTTP service
func NewService(app MeetingsApp) *Service {
	return &Service{
		app: app,
	}
}

// RegisterRoutes mounts the meetings API on r
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Route("/api/meetings", func(r chi.Router) {
		r.Get("/", s.listMeetings)
		r.Post("/", s.createMeeting)
		r.Route("/{meetingID}", func(r chi.Router) {
			r.Get("/", s.getMeeting)
			r.Put("/", s.updateMeeting)
			r.Delete("/", s.deleteMeeting)
			r.Get("/stages", s.listStages)
			r.Post("/stages", s.createStage)
			r.Post("/stages/import", s.importStages)
			r.Post("/sessions", s.startSession)
		})
	})
	r.Route("/api/stages/{stageID}", func(r chi.Router) {
		r.Put("/", s.updateStage)
		r.Patch("/completed", s.markStageCompleted)
		r.Delete("/", s.deleteStage)
	})
	r.Route("/api/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/progress", s.recordProgress)
		r.Post("/end", s.endSession)
	})
}

func (s *Service) listMeetings(w http.ResponseWriter, r *http.Request) {
	meetings, err := s.app.ListMeetings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meetings)
}

func (s *Service) createMeeting(w http.ResponseWriter, r *http.Request) {
	var req CreateMeetingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	meeting, err := s.app.CreateMeeting(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meeting)
}

func (s *Service) getMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	meeting, err := s.app.GetMeeting(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (s *Service) updateMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	var req UpdateMeetingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	meeting, err := s.app.UpdateMeeting(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (s *Service) deleteMeeting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	if err := s.app.DeleteMeeting(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listStages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	stages, err := s.app.ListStages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stages)
}

func (s *Service) createStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	var req CreateStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stage, err := s.app.CreateStage(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stage)
}

func (s *Service) importStages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	stages, err := s.app.ImportStagesCSV(r.Context(), id, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stages)
}

func (s *Service) updateStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "stageID")
	if !ok {
		return
	}
	var req UpdateStageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stage, err := s.app.UpdateStage(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stage)
}

func (s *Service) markStageCompleted(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "stageID")
	if !ok {
		return
	}
	var req struct {
		Completed bool `json:"completed"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	stage, err := s.app.MarkStageCompleted(r.Context(), id, req.Completed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stage)
}

func (s *Service) deleteStage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "stageID")
	if !ok {
		return
	}
	if err := s.app.DeleteStage(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) startSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "meetingID")
	if !ok {
		return
	}
	session, err := s.app.StartSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Service) recordProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	var req RecordProgressRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	progress, err := s.app.RecordProgress(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Service) endSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "sessionID")
	if !ok {
		return
	}
	session, err := s.app.EndSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid " + param + " format"})
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps app errors onto status codes. The error text is what the
// caller shows in its alert; nothing is retried.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("meetings request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
