package engine

import (
	"fmt"

	"github.com/drummonds/pagerender/database"
	"github.com/robfig/cron/v3"
)

// InitializeSchedules starts the maintenance cron jobs: pruning finished
// render jobs and logging renderer pool usage. Stop the returned cron on
// shutdown.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	cfg := serverHandler.ServerConfig
	c := cron.New()
	chain := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)) //ensure we don't kick off another if old one is still running

	if serverHandler.DB != nil && cfg.JobPruneInterval > 0 {
		// Prune once at startup, the schedule takes over from there
		go serverHandler.pruneJobsFunc()

		pruneJob := chain.Then(cron.FuncJob(serverHandler.pruneJobsFunc))
		if _, err := c.AddJob(fmt.Sprintf("@every %s", cfg.JobPruneInterval), pruneJob); err != nil {
			Logger.Error("Unable to schedule job pruning", "interval", cfg.JobPruneInterval, "error", err)
		} else {
			Logger.Info("Adding job prune scheduler", "interval", cfg.JobPruneInterval, "retention", cfg.JobRetention)
		}
	}

	if cfg.StatsInterval > 0 {
		statsJob := chain.Then(cron.FuncJob(serverHandler.poolStatsFunc))
		if _, err := c.AddJob(fmt.Sprintf("@every %s", cfg.StatsInterval), statsJob); err != nil {
			Logger.Error("Unable to schedule pool stats", "interval", cfg.StatsInterval, "error", err)
		} else {
			Logger.Info("Adding pool stats scheduler", "interval", cfg.StatsInterval)
		}
	}

	c.Start()
	return c
}

// pruneJobsFunc deletes finished jobs older than the retention period
func (serverHandler *ServerHandler) pruneJobsFunc() {
	// Add panic recovery to prevent entire application crash
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in job prune", "panic", r)
		}
	}()

	retention := serverHandler.ServerConfig.JobRetention
	if retention <= 0 {
		return
	}
	job, err := serverHandler.DB.CreateJob(database.JobTypeCleanup, "Pruning finished jobs")
	if err != nil {
		Logger.Error("Failed to create prune job", "error", err)
		return
	}

	deleted, err := serverHandler.DB.DeleteOldJobs(retention)
	if err != nil {
		Logger.Error("Failed to prune old jobs", "error", err)
		if err := serverHandler.DB.UpdateJobError(job.ID, fmt.Sprintf("Prune failed: %v", err)); err != nil {
			Logger.Error("Failed to record prune job error", "jobID", job.ID, "error", err)
		}
		return
	}
	Logger.Info("Pruned finished jobs", "deleted", deleted, "retention", retention)
	if err := serverHandler.DB.CompleteJob(job.ID, fmt.Sprintf(`{"jobsDeleted": %d}`, deleted)); err != nil {
		Logger.Error("Failed to complete prune job", "error", err)
	}
}

// poolStatsFunc logs a snapshot of the renderer pool
func (serverHandler *ServerHandler) poolStatsFunc() {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in pool stats", "panic", r)
		}
	}()

	stats, ok := serverHandler.Engine.PoolStats()
	if !ok {
		Logger.Debug("No document loaded, skipping pool stats")
		return
	}
	info, _ := serverHandler.Engine.Document()
	Logger.Info("Renderer pool stats",
		"document", info.Name,
		"size", stats.Size,
		"available", stats.Available,
		"checkedOut", stats.CheckedOut,
		"lost", stats.Lost)
	if stats.Lost > 0 {
		Logger.Warn("Renderers were lost to a drain while in use", "lost", stats.Lost)
	}
}
