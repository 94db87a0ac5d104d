package apihandlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"transmute/internal/app"
	"transmute/internal/models"
)

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(app *app.App) *APIHandler {
	return &APIHandler{App: app}
}

// NewRouter wires middleware and every route onto a fresh gin engine.
func NewRouter(a *app.App) *gin.Engine {
	h := NewAPIHandler(a)
	cfg := a.Config.Server

	router := gin.New()
	router.MaxMultipartMemory = 32 << 20
	router.Use(gin.Recovery(), RequestLogger(a.Logger), CORS(cfg.CORSOrigins))

	v1 := router.Group("/api/v1")
	v1.Use(RateLimit(cfg.RateLimit, cfg.RateBurst))
	{
		v1.POST("/convert", h.ConvertHandler)
		v1.POST("/cancel/:id", h.CancelHandler)
		v1.GET("/progress/:id", h.ProgressHandler)
		v1.GET("/download/:id", h.DownloadHandler)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:id", h.ProgressHandler)
			jobs.DELETE("/:id", h.DeleteJobHandler)
		}

		v1.GET("/formats", h.FormatsHandler)
		v1.GET("/stats", h.StatsHandler)
		v1.GET("/history", h.ListHistoryHandler)
		v1.GET("/history/:id", h.GetHistoryHandler)
	}

	router.GET("/health", h.HealthHandler)
	return router
}

// JobResponse is the public view of a job.
type JobResponse struct {
	ID           string        `json:"job_id"`
	Status       models.Status `json:"status"`
	Progress     int           `json:"progress"`
	Message      string        `json:"message"`
	OutputFormat string        `json:"output_format,omitempty"`
	OriginalName string        `json:"original_name,omitempty"`
	Error        string        `json:"error,omitempty"`
	DownloadURL  string        `json:"download_url,omitempty"`
	CreatedAt    *time.Time    `json:"created_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

func newJobResponse(job models.Job) JobResponse {
	resp := JobResponse{
		ID:           job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		Message:      job.Message,
		OutputFormat: job.OutputFormat,
		OriginalName: job.OriginalName,
		Error:        job.Error,
		CreatedAt:    timePtr(job.CreatedAt),
		FinishedAt:   timePtr(job.FinishedAt),
	}
	if job.Status == models.StatusCompleted {
		resp.DownloadURL = downloadURL(job.ID)
	}
	return resp
}

func updateResponse(u models.ProgressUpdate) JobResponse {
	resp := JobResponse{
		ID:           u.JobID,
		Status:       u.Status,
		Progress:     u.Progress,
		Message:      u.Message,
		OutputFormat: u.OutputFormat,
		Error:        u.Error,
	}
	if u.Status.Terminal() {
		resp.FinishedAt = timePtr(u.Timestamp)
	}
	return resp
}

func downloadURL(id string) string { return "/api/v1/download/" + id }

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func respondJob(c *gin.Context, status int, job models.Job) {
	c.JSON(status, gin.H{"data": newJobResponse(job)})
}

