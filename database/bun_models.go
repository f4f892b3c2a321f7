package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// BunDocumentLoad represents the document_loads table for Bun ORM
type BunDocumentLoad struct {
	bun.BaseModel `bun:"table:document_loads,alias:dl"`

	ID         string     `bun:"id,pk"` // ULID as string
	Name       string     `bun:"name,notnull"`
	PageCount  int        `bun:"page_count,notnull"`
	PoolSize   int        `bun:"pool_size,notnull"`
	Backend    string     `bun:"backend,notnull"`
	LoadedAt   time.Time  `bun:"loaded_at,notnull"`
	UnloadedAt *time.Time `bun:"unloaded_at,nullzero"`
}

// ToDocumentLoad converts BunDocumentLoad to DocumentLoad
func (bl *BunDocumentLoad) ToDocumentLoad() (*DocumentLoad, error) {
	parsedULID, err := ulid.Parse(bl.ID)
	if err != nil {
		return nil, err
	}
	return &DocumentLoad{
		ID:         parsedULID,
		Name:       bl.Name,
		PageCount:  bl.PageCount,
		PoolSize:   bl.PoolSize,
		Backend:    bl.Backend,
		LoadedAt:   bl.LoadedAt,
		UnloadedAt: bl.UnloadedAt,
	}, nil
}
