package apihandlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"transmute/internal/convert"
	"transmute/internal/models"
	"transmute/internal/progress"
	"transmute/internal/storage"
	"transmute/internal/util"
)

func (h *APIHandler) CancelHandler(c *gin.Context) {
	id := c.Param("id")
	if h.App.Queue.Cancel(id, models.ReasonUserCancelled) {
		job, ok := h.App.Queue.Status(id)
		if !ok {
			job = models.Job{ID: id, Status: models.StatusCancelled, Message: models.ReasonUserCancelled}
		}
		respondJob(c, http.StatusOK, job)
		return
	}

	job, ok := h.App.Queue.Status(id)
	if !ok {
		NotFound(c, fmt.Sprintf("Job %s not found", id))
		return
	}
	Conflict(c, fmt.Sprintf("Job %s is already %s", id, job.Status))
}

// ProgressHandler reports a job's state. Polling it counts as a heartbeat,
// so a client that stops polling eventually has its job reclaimed.
func (h *APIHandler) ProgressHandler(c *gin.Context) {
	id := c.Param("id")
	h.App.Queue.Heartbeat(id)

	if job, ok := h.App.Queue.Status(id); ok {
		respondJob(c, http.StatusOK, job)
		return
	}

	// The job may have been purged already; the last published state
	// outlives it for a while.
	if h.App.Snapshots != nil {
		u, err := h.App.Snapshots.Snapshot(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"data": updateResponse(u)})
			return
		case !errors.Is(err, progress.ErrNoSnapshot):
			h.App.Logger.WithError(err).WithField("job_id", id).Warn("snapshot lookup failed")
		}
	}
	NotFound(c, fmt.Sprintf("Job %s not found", id))
}

// DownloadHandler streams a completed job's output and schedules the job
// for removal once the download grace period has passed.
func (h *APIHandler) DownloadHandler(c *gin.Context) {
	id := c.Param("id")
	job, ok := h.App.Queue.Status(id)
	if !ok {
		NotFound(c, fmt.Sprintf("Job %s not found", id))
		return
	}
	if job.Status != models.StatusCompleted {
		Conflict(c, fmt.Sprintf("Job %s is %s, not completed", id, job.Status))
		return
	}

	f, meta, err := h.App.Storage.Open(c.Request.Context(), job.OutputPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			NotFound(c, fmt.Sprintf("Output of job %s is no longer available", id))
			return
		}
		Internal(c, fmt.Sprintf("DownloadHandler: open output: %v", err))
		return
	}
	defer f.Close()

	name := util.ReplaceExt(job.OriginalName, job.OutputFormat)
	c.Header("Content-Type", meta.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Cache-Control", "private, max-age=3600")
	http.ServeContent(c.Writer, c.Request, name, meta.ModTime, f)

	h.scheduleRemoval(c, id)
}

func (h *APIHandler) scheduleRemoval(c *gin.Context, id string) {
	grace := h.App.Config.Removal.DownloadGrace
	if grace <= 0 || h.App.Removal == nil {
		return
	}
	logger := h.App.Logger.WithFields(log.Fields{"job_id": id, "after": grace.String()})
	if err := h.App.Removal.ScheduleRemoval(c.Request.Context(), id, grace); err != nil {
		logger.WithError(err).Warn("failed to schedule removal")
		return
	}
	logger.Debug("removal scheduled")
}

func (h *APIHandler) DeleteJobHandler(c *gin.Context) {
	id := c.Param("id")
	if h.App.Queue.Remove(id) {
		c.Status(http.StatusNoContent)
		return
	}
	job, ok := h.App.Queue.Status(id)
	if !ok {
		NotFound(c, fmt.Sprintf("Job %s not found", id))
		return
	}
	Conflict(c, fmt.Sprintf("Job %s is %s; cancel it first", id, job.Status))
}

func (h *APIHandler) FormatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"output_formats": convert.OutputFormats()}})
}

