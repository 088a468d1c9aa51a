package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/creative_uploader/internal/storage"
	"github.com/italolelis/creative_uploader/internal/telemetry"
)

// InstrumentedUploadRepository wraps UploadRepository with telemetry.
type InstrumentedUploadRepository struct {
	repo      *UploadRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedUploadRepository creates a new instrumented upload repository.
func NewInstrumentedUploadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedUploadRepository {
	return &InstrumentedUploadRepository{
		repo:      NewUploadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedUploadRepository) GetJobs() ([]storage.UploadRecord, error) {
	var result []storage.UploadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_jobs", func(ctx context.Context) error {
		result, err = r.repo.GetJobs()

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedUploadRepository) GetJob(jobID string) (*storage.UploadRecord, error) {
	var result *storage.UploadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_job", func(ctx context.Context) error {
		result, err = r.repo.GetJob(jobID)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedUploadRepository) GetPendingJobs(limit int) ([]storage.UploadRecord, error) {
	var result []storage.UploadRecord

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "get_pending_jobs", func(ctx context.Context) error {
		result, err = r.repo.GetPendingJobs(limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedUploadRepository) CreateJob(jobID, sourceURL string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "create_job", func(ctx context.Context) error {
		return r.repo.CreateJob(jobID, sourceURL)
	})
}

func (r *InstrumentedUploadRepository) ClaimJob(jobID string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(context.Background(), "claim_job", func(ctx context.Context) error {
		result, err = r.repo.ClaimJob(jobID)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedUploadRepository) MarkUploaded(jobID, assetID string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "mark_uploaded", func(ctx context.Context) error {
		return r.repo.MarkUploaded(jobID, assetID)
	})
}

func (r *InstrumentedUploadRepository) MarkFailed(jobID, reason string) error {
	return r.telemetry.InstrumentDBOperation(context.Background(), "mark_failed", func(ctx context.Context) error {
		return r.repo.MarkFailed(jobID, reason)
	})
}
