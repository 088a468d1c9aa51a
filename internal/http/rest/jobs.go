package rest

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/creative_uploader/internal/logctx"
	"github.com/italolelis/creative_uploader/internal/storage"
)

// JobsHandler exposes upload job submission and inspection. Campaign and
// ad-set orchestration lives elsewhere; this surface only feeds the upload
// pipeline.
type JobsHandler struct {
	read  storage.UploadReadRepository
	write storage.UploadWriteRepository
}

func NewJobsHandler(read storage.UploadReadRepository, write storage.UploadWriteRepository) *JobsHandler {
	return &JobsHandler{read: read, write: write}
}

func (h *JobsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/jobs", h.createJob)
	r.Get("/jobs", h.listJobs)
	r.Get("/jobs/{jobID}", h.getJob)
	r.Get("/healthz", h.health)

	return r
}

type createJobRequest struct {
	SourceURL string `json:"source_url"`
}

type jobResponse struct {
	JobID     string `json:"job_id"`
	SourceURL string `json:"source_url"`
	Status    string `json:"status"`
	AssetID   string `json:"asset_id,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toJobResponse(record *storage.UploadRecord) jobResponse {
	return jobResponse{
		JobID:     record.JobID,
		SourceURL: record.SourceURL,
		Status:    record.Status,
		AssetID:   record.AssetID,
		Error:     record.Error,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func (h *JobsHandler) createJob(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if _, err := url.ParseRequestURI(req.SourceURL); err != nil {
		writeError(w, http.StatusBadRequest, "source_url must be a valid URL")

		return
	}

	jobID := uuid.New().String()

	if err := h.write.CreateJob(jobID, req.SourceURL); err != nil {
		logger.Error("failed to create job", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")

		return
	}

	logger.Info("upload job queued", "job_id", jobID)

	writeJSON(w, http.StatusAccepted, jobResponse{
		JobID:     jobID,
		SourceURL: req.SourceURL,
		Status:    storage.StatusPending,
	})
}

func (h *JobsHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.read.GetJobs()
	if err != nil {
		logger.Error("failed to list jobs", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")

		return
	}

	jobs := make([]jobResponse, 0, len(records))
	for i := range records {
		jobs = append(jobs, toJobResponse(&records[i]))
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobsHandler) getJob(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	record, err := h.read.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		logger.Error("failed to get job", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")

		return
	}

	if record == nil {
		writeError(w, http.StatusNotFound, "job not found")

		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(record))
}

func (h *JobsHandler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
