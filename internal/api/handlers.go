package api

import (
	"context"
	"net/http"
	"time"

	"catalogexport/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const healthTimeout = 2 * time.Second

type enqueueResponse struct {
	Message  string `json:"message"`
	ExportID string `json:"export_id"`
	Status   string `json:"status"`
}

type enqueueFailure struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type exportStatusResponse struct {
	ExportID string             `json:"export_id"`
	Status   models.ExportState `json:"status"`
	Runs     []models.ExportRun `json:"runs"`
}

// newExportID returns a time-ordered id so keys sort by request time.
func newExportID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (s *HTTPServer) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	admin, ok := AdminFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errMissingAdmin.Error())
		return
	}

	exportID, err := s.newID()
	if err != nil {
		s.log.Error().Err(err).Msg("generate export id")
		writeJSON(w, http.StatusInternalServerError, enqueueFailure{Message: "Failed to queue catalog export", Error: err.Error()})
		return
	}

	task := models.ExportTask{ExportID: exportID, AdminEmail: admin.Email}
	if err := s.enqueuer.Enqueue(r.Context(), task); err != nil {
		s.log.Error().Err(err).Str("export_id", exportID).Str("admin_email", admin.Email).Msg("enqueue export failed")
		writeJSON(w, http.StatusInternalServerError, enqueueFailure{Message: "Failed to queue catalog export", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, enqueueResponse{
		Message:  "Catalog export has been queued. You will be notified when it completes.",
		ExportID: exportID,
		Status:   "queued",
	})
}

func (s *HTTPServer) handleGetExport(w http.ResponseWriter, r *http.Request) {
	exportID := chi.URLParam(r, "exportID")
	if exportID == "" {
		writeError(w, http.StatusBadRequest, "export id is required")
		return
	}

	runs, err := s.runs.GetExportRuns(r.Context(), exportID)
	if err != nil {
		s.log.Error().Err(err).Str("export_id", exportID).Msg("load export runs")
		writeError(w, http.StatusInternalServerError, "failed to load export")
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}

	writeJSON(w, http.StatusOK, exportStatusResponse{
		ExportID: exportID,
		Status:   runs[len(runs)-1].Status,
		Runs:     runs,
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.health.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	if d, ok := s.health.(interface{ Degraded() bool }); ok && d.Degraded() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
