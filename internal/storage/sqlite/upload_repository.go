package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/creative_uploader/internal/storage"
)

type UploadRepository struct {
	db *sql.DB
}

func NewUploadRepository(dbConn *sql.DB) *UploadRepository {
	return &UploadRepository{db: dbConn}
}

const selectColumns = `job_id, source_url, asset_id, status, error, created_at, updated_at, locked_by`

func (r *UploadRepository) GetJobs() ([]storage.UploadRecord, error) {
	rows, err := r.db.Query(`SELECT ` + selectColumns + ` FROM uploads ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *UploadRepository) GetJob(jobID string) (*storage.UploadRecord, error) {
	row := r.db.QueryRow(`SELECT `+selectColumns+` FROM uploads WHERE job_id = ?`, jobID)

	record, err := scanRecord(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	return record, nil
}

// GetPendingJobs returns jobs that are pending and not locked, up to a limit.
func (r *UploadRepository) GetPendingJobs(limit int) ([]storage.UploadRecord, error) {
	rows, err := r.db.Query(`SELECT `+selectColumns+` FROM uploads
		WHERE status = 'pending'
		AND (locked_by IS NULL OR locked_by = '')
		ORDER BY created_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *UploadRepository) CreateJob(jobID, sourceURL string) error {
	now := time.Now().Format(time.RFC3339)

	_, err := r.db.Exec(`INSERT INTO uploads (job_id, source_url, status, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?)`, jobID, sourceURL, now, now)

	return err
}

// ClaimJob atomically sets status to 'uploading' and locked_by to this
// instance if the job is still pending or failed. Returns false when another
// instance got there first.
func (r *UploadRepository) ClaimJob(jobID string) (bool, error) {
	var status string

	err := r.db.QueryRow(`SELECT status FROM uploads WHERE job_id = ?`, jobID).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	if status == storage.StatusUploaded {
		return false, storage.ErrUploaded
	}

	result, err := r.db.Exec(`UPDATE uploads SET
			status = 'uploading',
			locked_by = ?,
			updated_at = ?
		WHERE job_id = ?
		AND status IN ('pending', 'failed')
		AND (locked_by IS NULL OR locked_by = '')`,
		storage.GenerateInstanceID(), time.Now().Format(time.RFC3339), jobID)
	if err != nil {
		return false, err
	}

	affected, _ := result.RowsAffected()

	return affected > 0, nil
}

func (r *UploadRepository) MarkUploaded(jobID, assetID string) error {
	_, err := r.db.Exec(`UPDATE uploads SET
			status = 'uploaded',
			asset_id = ?,
			error = '',
			locked_by = NULL,
			updated_at = ?
		WHERE job_id = ?`, assetID, time.Now().Format(time.RFC3339), jobID)

	return err
}

func (r *UploadRepository) MarkFailed(jobID, reason string) error {
	_, err := r.db.Exec(`UPDATE uploads SET
			status = 'failed',
			error = ?,
			locked_by = NULL,
			updated_at = ?
		WHERE job_id = ?`, reason, time.Now().Format(time.RFC3339), jobID)

	return err
}

func scanRecords(rows *sql.Rows) ([]storage.UploadRecord, error) {
	var records []storage.UploadRecord

	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}

		records = append(records, *record)
	}

	return records, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*storage.UploadRecord, error) {
	var record storage.UploadRecord

	var assetID, errText, lockedBy sql.NullString

	if err := scan(&record.JobID, &record.SourceURL, &assetID, &record.Status,
		&errText, &record.CreatedAt, &record.UpdatedAt, &lockedBy); err != nil {
		return nil, err
	}

	record.AssetID = assetID.String
	record.Error = errText.String
	record.LockedBy = lockedBy.String

	return &record, nil
}
