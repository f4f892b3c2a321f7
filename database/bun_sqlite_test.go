package database

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/drummonds/pagerender/config"
	"github.com/oklog/ulid/v2"
)

func newTestRepository(t *testing.T) *BunDB {
	t.Helper()
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	db, err := NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to set up sqlite repository: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBunSQLiteDatabase(t *testing.T) {
	db := newTestRepository(t)

	t.Run("Create and retrieve job", func(t *testing.T) {
		job, err := db.CreateJob(JobTypeBatchRender, "Rendering 5 pages")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}
		if job.Status != JobStatusPending {
			t.Errorf("Expected status %s, got %s", JobStatusPending, job.Status)
		}

		retrievedJob, err := db.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if retrievedJob.Message != job.Message {
			t.Errorf("Expected message %s, got %s", job.Message, retrievedJob.Message)
		}

		if err := db.UpdateJobStatus(job.ID, JobStatusRunning, "Rendering"); err != nil {
			t.Fatalf("Failed to update job status: %v", err)
		}
		if err := db.UpdateJobProgress(job.ID, 40, "Rendered 2 of 5 pages"); err != nil {
			t.Fatalf("Failed to update job progress: %v", err)
		}

		running, err := db.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get running job: %v", err)
		}
		if running.StartedAt == nil {
			t.Error("Expected StartedAt to be set once running")
		}
		if running.Progress != 40 || running.CurrentStep != "Rendered 2 of 5 pages" {
			t.Errorf("Unexpected progress: %d %q", running.Progress, running.CurrentStep)
		}

		if err := db.CompleteJob(job.ID, `{"pagesRendered": 5}`); err != nil {
			t.Fatalf("Failed to complete job: %v", err)
		}
		completedJob, err := db.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get completed job: %v", err)
		}
		if completedJob.Status != JobStatusCompleted {
			t.Errorf("Expected status %s, got %s", JobStatusCompleted, completedJob.Status)
		}
		if completedJob.Progress != 100 {
			t.Errorf("Expected progress 100, got %d", completedJob.Progress)
		}
		if !completedJob.IsFinished() {
			t.Error("Completed job should be finished")
		}
	})

	t.Run("Failed job", func(t *testing.T) {
		job, err := db.CreateJob(JobTypeStreamRender, "Streaming 3 pages")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}
		if err := db.UpdateJobError(job.ID, "renderer pool is closed"); err != nil {
			t.Fatalf("Failed to set job error: %v", err)
		}
		failed, err := db.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if failed.Status != JobStatusFailed || failed.Error != "renderer pool is closed" {
			t.Errorf("Unexpected failed job: %+v", failed)
		}
		if failed.CompletedAt == nil {
			t.Error("Expected CompletedAt on a failed job")
		}
	})

	t.Run("Active and recent jobs", func(t *testing.T) {
		active, err := db.CreateJob(JobTypeBatchRender, "still running")
		if err != nil {
			t.Fatalf("Failed to create job: %v", err)
		}
		db.UpdateJobStatus(active.ID, JobStatusRunning, "Rendering")

		activeJobs, err := db.GetActiveJobs()
		if err != nil {
			t.Fatalf("Failed to get active jobs: %v", err)
		}
		found := false
		for _, job := range activeJobs {
			if job.ID == active.ID {
				found = true
			}
			if job.IsFinished() {
				t.Errorf("Finished job %s listed as active", job.ID)
			}
		}
		if !found {
			t.Error("Running job missing from active jobs")
		}

		recent, err := db.GetRecentJobs(2, 0)
		if err != nil {
			t.Fatalf("Failed to get recent jobs: %v", err)
		}
		if len(recent) != 2 {
			t.Errorf("Expected 2 recent jobs, got %d", len(recent))
		}
	})

	t.Run("Delete old jobs", func(t *testing.T) {
		job, _ := db.CreateJob(JobTypeCleanup, "old")
		db.CompleteJob(job.ID, "")
		time.Sleep(10 * time.Millisecond)

		deleted, err := db.DeleteOldJobs(time.Millisecond)
		if err != nil {
			t.Fatalf("Failed to delete old jobs: %v", err)
		}
		if deleted < 1 {
			t.Errorf("Expected at least one job deleted, got %d", deleted)
		}
		if _, err := db.GetJob(job.ID); err == nil {
			t.Error("Old finished job should be gone")
		}

		active, err := db.GetActiveJobs()
		if err != nil {
			t.Fatalf("Failed to get active jobs: %v", err)
		}
		if len(active) == 0 {
			t.Error("Pruning must not delete running jobs")
		}
	})
}

func TestBunSQLiteDocumentLoads(t *testing.T) {
	db := newTestRepository(t)

	first := ulid.Make()
	if err := db.RecordDocumentLoad(first, "first.pdf", 12, 2, "fitz"); err != nil {
		t.Fatalf("Failed to record load: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := db.RecordDocumentUnload(first); err != nil {
		t.Fatalf("Failed to record unload: %v", err)
	}
	second := ulid.Make()
	if err := db.RecordDocumentLoad(second, "second.pdf", 3, 4, "pdfium"); err != nil {
		t.Fatalf("Failed to record load: %v", err)
	}

	loads, err := db.GetRecentDocumentLoads(10)
	if err != nil {
		t.Fatalf("Failed to get loads: %v", err)
	}
	if len(loads) != 2 {
		t.Fatalf("Expected 2 loads, got %d", len(loads))
	}
	if loads[0].ID != second || loads[0].UnloadedAt != nil {
		t.Errorf("Expected the open second load first, got %+v", loads[0])
	}
	if loads[1].ID != first || loads[1].UnloadedAt == nil {
		t.Errorf("Expected the first load to be closed, got %+v", loads[1])
	}
	if loads[1].PageCount != 12 || loads[1].PoolSize != 2 || loads[1].Backend != "fitz" {
		t.Errorf("Unexpected load row: %+v", loads[1])
	}
}

func TestNewRepository_UnknownType(t *testing.T) {
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if _, err := NewRepository(config.ServerConfig{DatabaseType: "oracle"}); err == nil {
		t.Error("Expected an error for an unknown database type")
	}
}
