package database

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// DocumentLoad is one entry in the history of documents loaded into the engine
type DocumentLoad struct {
	ID         ulid.ULID  `json:"id"`
	Name       string     `json:"name"`
	PageCount  int        `json:"pageCount"`
	PoolSize   int        `json:"poolSize"`
	Backend    string     `json:"backend"`
	LoadedAt   time.Time  `json:"loadedAt"`
	UnloadedAt *time.Time `json:"unloadedAt,omitempty"`
}

// Repository defines database operations
type Repository interface {
	Close() error
	// Job tracking methods
	CreateJob(jobType JobType, message string) (*Job, error)
	UpdateJobProgress(jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(jobID ulid.ULID, errorMsg string) error
	CompleteJob(jobID ulid.ULID, result string) error
	GetJob(jobID ulid.ULID) (*Job, error)
	GetRecentJobs(limit, offset int) ([]Job, error)
	GetActiveJobs() ([]Job, error)
	DeleteOldJobs(olderThan time.Duration) (int, error)
	// Document load history
	RecordDocumentLoad(id ulid.ULID, name string, pageCount, poolSize int, backend string) error
	RecordDocumentUnload(id ulid.ULID) error
	GetRecentDocumentLoads(limit int) ([]DocumentLoad, error)
}

// CalculateUUID returns a time ordered id for new rows
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
