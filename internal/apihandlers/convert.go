package apihandlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"transmute/internal/convert"
	"transmute/internal/fileingest"
	"transmute/internal/models"
	"transmute/internal/util"
)

// multipartOverhead is the allowance on top of max_upload_bytes for the
// multipart envelope and the small form fields.
const multipartOverhead = 1 << 20

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ConvertRequest holds the parsed, validated form fields of a convert call.
type ConvertRequest struct {
	ID     string
	Format string
	Wait   time.Duration
}

/*
ConvertHandler accepts a multipart upload and queues its conversion.

Form fields: file (required), format (required), id (optional caller id),
wait (optional seconds to hold the request open for a fast-path answer).
Responds 202 with the queued job, or 200 when the job finished within wait.
*/
func (h *APIHandler) ConvertHandler(c *gin.Context) {
	cfg := h.App.Config.Server
	if cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxUploadBytes+multipartOverhead)
	}

	if _, err := c.MultipartForm(); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			TooLarge(c, fmt.Sprintf("Upload exceeds %d bytes", cfg.MaxUploadBytes))
			return
		}
		BadRequest(c, "Invalid multipart body: "+err.Error())
		return
	}

	req, err := parseConvertRequest(c, cfg.FastPathWait)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "Missing file: "+err.Error())
		return
	}

	inputExt := util.Ext(header.Filename)
	if _, err := convert.Resolve(inputExt, req.Format); err != nil {
		BadRequest(c, err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, exists := h.App.Queue.Status(req.ID); exists {
		Conflict(c, fmt.Sprintf("Job %s already exists", req.ID))
		return
	}

	src, err := header.Open()
	if err != nil {
		Internal(c, fmt.Sprintf("ConvertHandler: open upload: %v", err))
		return
	}
	defer src.Close()

	inputPath, err := h.App.Storage.ReserveInput(req.ID, inputExt)
	if err != nil {
		Internal(c, fmt.Sprintf("ConvertHandler: %v", err))
		return
	}
	if _, err := fileingest.Save(c.Request.Context(), inputPath, src, cfg.MaxUploadBytes); err != nil {
		if errors.Is(err, fileingest.ErrTooLarge) {
			TooLarge(c, fmt.Sprintf("Upload exceeds %d bytes", cfg.MaxUploadBytes))
			return
		}
		Internal(c, fmt.Sprintf("ConvertHandler: save upload: %v", err))
		return
	}

	job := models.Job{
		ID:           req.ID,
		InputPath:    inputPath,
		OutputPath:   h.App.Storage.OutputPath(req.ID, req.Format),
		OutputFormat: req.Format,
		OriginalName: util.SanitizeFilename(header.Filename),
	}

	// Register before submitting so a job that finishes instantly is not missed.
	var done chan models.ProgressUpdate
	if req.Wait > 0 {
		done = h.App.Broker.Register(req.ID)
		defer h.App.Broker.Unregister(req.ID, done)
	}

	id, err := h.App.Queue.Submit(job)
	if err != nil {
		if delErr := h.App.Storage.Delete(c.Request.Context(), inputPath); delErr != nil {
			h.App.Logger.WithError(delErr).WithField("job_id", req.ID).Warn("failed to delete rejected upload")
		}
		switch {
		case errors.Is(err, models.ErrRejectedFull):
			Unavailable(c, "Server busy, please try again later")
		case errors.Is(err, models.ErrDuplicateJob):
			Conflict(c, fmt.Sprintf("Job %s already exists", req.ID))
		default:
			Internal(c, fmt.Sprintf("ConvertHandler: submit: %v", err))
		}
		return
	}

	h.App.Logger.WithFields(log.Fields{
		"job_id": id,
		"format": req.Format,
		"name":   job.OriginalName,
	}).Info("conversion queued")

	if done != nil {
		timer := time.NewTimer(req.Wait)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-c.Request.Context().Done():
		}
	}

	current, ok := h.App.Queue.Status(id)
	if !ok {
		// Removed between submit and now, e.g. by a concurrent delete.
		c.JSON(http.StatusAccepted, gin.H{"data": JobResponse{ID: id, Status: models.StatusPending}})
		return
	}
	status := http.StatusAccepted
	if current.Status.Terminal() {
		status = http.StatusOK
	}
	respondJob(c, status, current)
}

func parseConvertRequest(c *gin.Context, maxWait time.Duration) (ConvertRequest, error) {
	req := ConvertRequest{
		ID:     strings.TrimSpace(c.PostForm("id")),
		Format: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.PostForm("format")), ".")),
	}
	if req.Format == "" {
		return req, errors.New("missing required field: format")
	}
	if req.ID != "" && !jobIDPattern.MatchString(req.ID) {
		return req, errors.New("id must be 1-64 characters of letters, digits, '-' or '_'")
	}

	if raw := c.PostForm("wait"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			return req, fmt.Errorf("invalid wait value %q", raw)
		}
		req.Wait = time.Duration(secs * float64(time.Second))
		if req.Wait > maxWait {
			req.Wait = maxWait
		}
	}
	return req, nil
}
