package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
)

// Upload job states.
const (
	StatusPending   = "pending"
	StatusUploading = "uploading"
	StatusUploaded  = "uploaded"
	StatusFailed    = "failed"
)

// ErrUploaded signals that a job already delivered its asset.
var ErrUploaded = errors.New("job already uploaded")

// UploadRecord tracks one source-to-asset delivery.
type UploadRecord struct {
	JobID     string
	SourceURL string
	AssetID   string
	Status    string
	Error     string
	CreatedAt string
	UpdatedAt string
	LockedBy  string
}

// UploadReadRepository exposes read access to tracked upload jobs.
type UploadReadRepository interface {
	GetJobs() ([]UploadRecord, error)
	GetJob(jobID string) (*UploadRecord, error)
	GetPendingJobs(limit int) ([]UploadRecord, error)
}

// UploadWriteRepository exposes job lifecycle mutations.
type UploadWriteRepository interface {
	CreateJob(jobID, sourceURL string) error
	ClaimJob(jobID string) (bool, error) // atomically claim a pending job
	MarkUploaded(jobID, assetID string) error
	MarkFailed(jobID, reason string) error
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random).
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
