// Package api exposes the timelapse job service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/cleanup"
	"github.com/sireskandari/Aransite/pkg/jobs"
	"github.com/sireskandari/Aransite/pkg/logging"
	"github.com/sireskandari/Aransite/pkg/models"
	"github.com/sireskandari/Aransite/pkg/store"
)

const maxRequestBody = 64 << 10

// Enqueuer accepts generation requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.GenerateRequest) (string, error)
}

// Streamer writes a job's artifact.
type Streamer interface {
	Stream(w http.ResponseWriter, r *http.Request, id string)
}

// Sweeper deletes every generated artifact.
type Sweeper interface {
	DeleteAll(ctx context.Context) (cleanup.Report, error)
}

// GenerateResponse acknowledges an accepted (or rejected but recorded) request.
type GenerateResponse struct {
	ID     string                 `json:"id"`
	Status models.TimelapseStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// Handler serves the timelapse routes.
type Handler struct {
	store      store.Store
	dispatcher Enqueuer
	artifacts  Streamer
	sweeper    Sweeper
	logger     zerolog.Logger
}

// NewHandler creates a handler over its collaborators.
func NewHandler(s store.Store, d Enqueuer, a Streamer, sw Sweeper) *Handler {
	return &Handler{
		store:      s,
		dispatcher: d,
		artifacts:  a,
		sweeper:    sw,
		logger:     logging.WithComponent("api"),
	}
}

// RegisterRoutes registers the /timelapse routes on r. generate wraps the
// generation endpoint only, e.g. with a rate limiter; nil leaves it bare.
func (h *Handler) RegisterRoutes(r *mux.Router, generate func(http.Handler) http.Handler) {
	var gen http.Handler = http.HandlerFunc(h.Generate)
	if generate != nil {
		gen = generate(gen)
	}

	// Literal paths before parameterized ones.
	r.Handle("/timelapse/generate-from-edge", gen).Methods(http.MethodPost)
	r.HandleFunc("/timelapse/files", h.DeleteFiles).Methods(http.MethodDelete)
	r.HandleFunc("/timelapse", h.List).Methods(http.MethodGet)
	r.HandleFunc("/timelapse/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/timelapse/{id}", h.Delete).Methods(http.MethodDelete)
	r.HandleFunc("/timelapse/{id}/stream", h.Stream).Methods(http.MethodGet, http.MethodHead)
}

// Generate accepts a generation request and answers before any encoding runs.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	id, err := h.dispatcher.Enqueue(r.Context(), req)
	switch {
	case err == nil:
		w.Header().Set("Location", "/api/v1/timelapse/"+id)
		writeJSON(w, http.StatusAccepted, GenerateResponse{ID: id, Status: models.StatusPending})

	case models.IsValidation(err):
		var verr *models.ValidationError
		errors.As(err, &verr)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message, Field: verr.Field})

	case id != "" && (errors.Is(err, models.ErrQueueFull) || errors.Is(err, jobs.ErrPoolClosed)):
		// The row exists; the client can still poll it.
		status := models.StatusFailed
		var serr *jobs.ScheduleError
		if errors.As(err, &serr) {
			status = serr.Status
		}
		w.Header().Set("Retry-After", "30")
		writeJSON(w, http.StatusServiceUnavailable, GenerateResponse{
			ID:     id,
			Status: status,
			Error:  unwrapMessage(err),
		})

	default:
		h.logger.Error().Err(err).Msg("failed to enqueue timelapse")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to create timelapse job"})
	}
}

// Get returns one job row for status polling.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.store.GetTimelapse(r.Context(), id)
	if err != nil {
		h.storeError(w, err, id)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, job)
}

// List returns a page of jobs, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.store.ListTimelapses(r.Context(), store.ListQuery{
		Search:   q.Get("search"),
		Page:     atoiOrZero(q.Get("page")),
		PageSize: atoiOrZero(q.Get("pageSize")),
	})
	if err != nil {
		h.storeError(w, err, "")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, page)
}

// Delete removes a job row. The artifact, if any, is left for the sweeper.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteTimelapse(r.Context(), id); err != nil {
		h.storeError(w, err, id)
		return
	}
	h.logger.Info().Str("job_id", id).Msg("timelapse row deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Stream serves the artifact of a completed job.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	h.artifacts.Stream(w, r, mux.Vars(r)["id"])
}

// DeleteFiles runs the maintenance sweeper over the output root.
func (h *Handler) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.DeleteAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("artifact sweep failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to delete timelapse files"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Health reports whether the job store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	if err := h.store.HealthCheck(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) storeError(w http.ResponseWriter, err error, id string) {
	if errors.Is(err, models.ErrJobNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}
	h.logger.Error().Err(err).Str("job_id", id).Msg("store operation failed")
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func unwrapMessage(err error) string {
	switch {
	case errors.Is(err, jobs.ErrPoolClosed):
		return jobs.ErrPoolClosed.Error()
	case errors.Is(err, models.ErrQueueFull):
		return models.ErrQueueFull.Error()
	}
	return err.Error()
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
