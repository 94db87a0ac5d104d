package apihandlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"transmute/internal/models"
	"transmute/internal/queue"
	"transmute/internal/store"
)

const healthCheckTimeout = 2 * time.Second

type StatsResponse struct {
	Queue   queue.Stats             `json:"queue"`
	History map[models.Status]int64 `json:"history,omitempty"`
}

func (h *APIHandler) StatsHandler(c *gin.Context) {
	resp := StatsResponse{Queue: h.App.Queue.Stats()}
	if h.App.HistoryStore != nil {
		counts, err := h.App.HistoryStore.CountByStatus(c.Request.Context())
		if err != nil {
			h.App.Logger.WithError(err).Warn("history counts unavailable")
		} else {
			resp.History = counts
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (h *APIHandler) ListHistoryHandler(c *gin.Context) {
	if h.App.HistoryStore == nil {
		Unavailable(c, "Job history is disabled")
		return
	}
	filter, err := parseHistoryFilter(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	entries, err := h.App.HistoryStore.List(c.Request.Context(), filter)
	if err != nil {
		Internal(c, fmt.Sprintf("ListHistoryHandler: failed to list history: %v", err))
		return
	}
	if entries == nil {
		entries = []*models.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (h *APIHandler) GetHistoryHandler(c *gin.Context) {
	if h.App.HistoryStore == nil {
		Unavailable(c, "Job history is disabled")
		return
	}
	id := c.Param("id")
	entry, err := h.App.HistoryStore.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(c, fmt.Sprintf("No history for job %s", id))
			return
		}
		Internal(c, fmt.Sprintf("GetHistoryHandler: failed to get history: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func parseHistoryFilter(c *gin.Context) (store.HistoryFilter, error) {
	var f store.HistoryFilter
	if s := c.Query("status"); s != "" {
		f.Status = models.Status(s)
		if !f.Status.Valid() || !f.Status.Terminal() {
			return f, fmt.Errorf("status must be completed, failed or cancelled")
		}
	}
	var err error
	if s := c.Query("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit < 0 {
			return f, fmt.Errorf("invalid limit %q", s)
		}
	}
	if s := c.Query("offset"); s != "" {
		if f.Offset, err = strconv.Atoi(s); err != nil || f.Offset < 0 {
			return f, fmt.Errorf("invalid offset %q", s)
		}
	}
	return f, nil
}

// HealthHandler reports 200 when every configured dependency answers and
// 503 otherwise. Dependencies that are not configured are not checked.
func (h *APIHandler) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if h.App.Redis != nil {
		if err := h.App.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if h.App.HistoryStore != nil {
		if err := h.App.HistoryStore.Ping(ctx); err != nil {
			checks["history"] = err.Error()
			healthy = false
		} else {
			checks["history"] = "ok"
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
