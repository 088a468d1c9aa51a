package rest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/italolelis/creative_uploader/internal/http/rest"
	"github.com/italolelis/creative_uploader/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	jobs    map[string]*storage.UploadRecord
	order   []string
	creates int
	failOn  string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: map[string]*storage.UploadRecord{}}
}

func (r *fakeRepo) GetJobs() ([]storage.UploadRecord, error) {
	records := make([]storage.UploadRecord, 0, len(r.order))
	for _, id := range r.order {
		records = append(records, *r.jobs[id])
	}

	return records, nil
}

func (r *fakeRepo) GetJob(jobID string) (*storage.UploadRecord, error) {
	return r.jobs[jobID], nil
}

func (r *fakeRepo) GetPendingJobs(limit int) ([]storage.UploadRecord, error) {
	var pending []storage.UploadRecord

	for _, id := range r.order {
		if len(pending) == limit {
			break
		}

		if r.jobs[id].Status == storage.StatusPending {
			pending = append(pending, *r.jobs[id])
		}
	}

	return pending, nil
}

func (r *fakeRepo) CreateJob(jobID, sourceURL string) error {
	if r.failOn == "create" {
		return assert.AnError
	}

	r.creates++
	r.jobs[jobID] = &storage.UploadRecord{JobID: jobID, SourceURL: sourceURL, Status: storage.StatusPending}
	r.order = append(r.order, jobID)

	return nil
}

func (r *fakeRepo) ClaimJob(jobID string) (bool, error) {
	job, ok := r.jobs[jobID]
	if !ok {
		return false, nil
	}

	if job.Status == storage.StatusUploaded {
		return false, storage.ErrUploaded
	}

	job.Status = storage.StatusUploading

	return true, nil
}

func (r *fakeRepo) MarkUploaded(jobID, assetID string) error {
	r.jobs[jobID].Status = storage.StatusUploaded
	r.jobs[jobID].AssetID = assetID

	return nil
}

func (r *fakeRepo) MarkFailed(jobID, reason string) error {
	r.jobs[jobID].Status = storage.StatusFailed
	r.jobs[jobID].Error = reason

	return nil
}

func TestCreateJob(t *testing.T) {
	repo := newFakeRepo()
	handler := rest.NewJobsHandler(repo, repo)

	body := `{"source_url":"https://drive.google.com/file/d/abc/view"}`
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, repo.creates)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, storage.StatusPending, resp["status"])
	assert.Equal(t, "https://drive.google.com/file/d/abc/view", resp["source_url"])
}

func TestCreateJob_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing url", `{}`},
		{"relative url", `{"source_url":"not-a-url"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			handler := rest.NewJobsHandler(repo, repo)

			req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			handler.Routes().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, repo.creates)
		})
	}
}

func TestCreateJob_RepositoryFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.failOn = "create"
	handler := rest.NewJobsHandler(repo, repo)

	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(`{"source_url":"https://example.com/v.mp4"}`))
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListJobs(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))
	require.NoError(t, repo.CreateJob("job-2", "https://example.com/b.mp4"))
	require.NoError(t, repo.MarkUploaded("job-1", "asset-7"))

	handler := rest.NewJobsHandler(repo, repo)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "job-1", resp[0]["job_id"])
	assert.Equal(t, storage.StatusUploaded, resp[0]["status"])
	assert.Equal(t, "asset-7", resp[0]["asset_id"])
}

func TestGetJob(t *testing.T) {
	repo := newFakeRepo()
	require.NoError(t, repo.CreateJob("job-1", "https://example.com/a.mp4"))

	handler := rest.NewJobsHandler(repo, repo)

	req := httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])
}

func TestGetJob_NotFound(t *testing.T) {
	repo := newFakeRepo()
	handler := rest.NewJobsHandler(repo, repo)

	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	repo := newFakeRepo()
	handler := rest.NewJobsHandler(repo, repo)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
