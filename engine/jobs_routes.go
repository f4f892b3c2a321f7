package engine

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/drummonds/pagerender/database"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// GetJob retrieves a job by ID
// @Summary Get job by ID
// @Description Retrieve details of a specific render job by its ID
// @Tags Jobs
// @Accept json
// @Produce json
// @Param id path string true "Job ID (ULID)"
// @Success 200 {object} database.Job "Job details"
// @Failure 400 {object} map[string]interface{} "Invalid job ID"
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Router /jobs/{id} [get]
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	jobIDStr := c.Param("id")

	jobID, err := ulid.Parse(jobIDStr)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid job ID format",
		})
	}
	if serverHandler.DB == nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Job not found",
		})
	}

	job, err := serverHandler.DB.GetJob(jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "Job not found",
			})
		}
		Logger.Error("Failed to get job", "jobID", jobIDStr, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve job",
		})
	}

	return c.JSON(http.StatusOK, job)
}

// GetRecentJobs retrieves recent jobs with pagination
// @Summary Get recent jobs
// @Description Retrieve a list of recent render jobs with pagination
// @Tags Jobs
// @Accept json
// @Produce json
// @Param limit query int false "Number of jobs to return (default: 20)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Success 200 {array} database.Job "List of jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs [get]
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	if serverHandler.DB == nil {
		return c.JSON(http.StatusOK, []database.Job{})
	}
	jobs, err := serverHandler.DB.GetRecentJobs(limit, offset)
	if err != nil {
		Logger.Error("Failed to get recent jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve jobs",
		})
	}

	if jobs == nil {
		jobs = []database.Job{}
	}

	return c.JSON(http.StatusOK, jobs)
}

// GetActiveJobs retrieves all currently running or pending jobs
// @Summary Get active jobs
// @Description Retrieve all render jobs that are currently running or pending
// @Tags Jobs
// @Accept json
// @Produce json
// @Success 200 {array} database.Job "List of active jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /jobs/active [get]
func (serverHandler *ServerHandler) GetActiveJobs(c echo.Context) error {
	if serverHandler.DB == nil {
		return c.JSON(http.StatusOK, []database.Job{})
	}
	jobs, err := serverHandler.DB.GetActiveJobs()
	if err != nil {
		Logger.Error("Failed to get active jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve active jobs",
		})
	}

	if jobs == nil {
		jobs = []database.Job{}
	}

	return c.JSON(http.StatusOK, jobs)
}

// renderJob tracks one render request in the jobs table. Tracking failures
// are logged and never fail the render itself.
type renderJob struct {
	db    database.Repository
	id    ulid.ULID
	ok    bool
	total int
}

func (serverHandler *ServerHandler) startRenderJob(jobType database.JobType, total int, message string) *renderJob {
	job := &renderJob{db: serverHandler.DB, total: total}
	if serverHandler.DB == nil {
		return job
	}
	created, err := serverHandler.DB.CreateJob(jobType, message)
	if err != nil {
		Logger.Error("Failed to create render job", "type", jobType, "error", err)
		return job
	}
	job.id = created.ID
	job.ok = true
	if err := job.db.UpdateJobStatus(job.id, database.JobStatusRunning, message); err != nil {
		Logger.Error("Failed to update job status", "jobID", job.id, "error", err)
	}
	return job
}

// String returns the job id, or "" when the request is not tracked
func (j *renderJob) String() string {
	if !j.ok {
		return ""
	}
	return j.id.String()
}

func (j *renderJob) progress(done int) {
	if !j.ok || j.total == 0 {
		return
	}
	step := strconv.Itoa(done) + " of " + strconv.Itoa(j.total) + " pages"
	if err := j.db.UpdateJobProgress(j.id, done*100/j.total, step); err != nil {
		Logger.Error("Failed to update job progress", "jobID", j.id, "error", err)
	}
}

func (j *renderJob) fail(cause error) {
	if !j.ok {
		return
	}
	if err := j.db.UpdateJobError(j.id, cause.Error()); err != nil {
		Logger.Error("Failed to record job error", "jobID", j.id, "error", err)
	}
}

func (j *renderJob) cancel(message string) {
	if !j.ok {
		return
	}
	if err := j.db.UpdateJobStatus(j.id, database.JobStatusCancelled, message); err != nil {
		Logger.Error("Failed to cancel job", "jobID", j.id, "error", err)
	}
}

func (j *renderJob) complete(summary database.RenderSummary) {
	if !j.ok {
		return
	}
	result, err := json.Marshal(summary)
	if err != nil {
		Logger.Error("Failed to encode job result", "jobID", j.id, "error", err)
	}
	if err := j.db.CompleteJob(j.id, string(result)); err != nil {
		Logger.Error("Failed to complete job", "jobID", j.id, "error", err)
	}
}
