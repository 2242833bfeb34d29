package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"floodwatch/internal/model"
	"floodwatch/internal/service/queue"

	"github.com/gin-gonic/gin"
)

// MutationQueue is the read and retry side of the offline queue
type MutationQueue interface {
	List(ctx context.Context, status model.MutationStatus) ([]model.QueuedMutation, error)
	Get(ctx context.Context, id string) (model.QueuedMutation, error)
	Retry(ctx context.Context, id string) (model.QueuedMutation, error)
	PendingCount(ctx context.Context) (int, error)
}

// MutationWriter sends a write now or queues it for replay
type MutationWriter interface {
	Write(ctx context.Context, method, target string, payload json.RawMessage, headers map[string]string) (queue.WriteResult, error)
}

type mutationRequest struct {
	Method  string            `json:"method" binding:"required,oneof=POST PUT PATCH DELETE post put patch delete"`
	Target  string            `json:"url" binding:"required"`
	Data    json.RawMessage   `json:"data"`
	Headers map[string]string `json:"headers"`
}

// SetupQueueHandlers registers the offline mutation endpoints
func SetupQueueHandlers(router *gin.RouterGroup, mutations MutationQueue, writer MutationWriter) {
	group := router.Group("/mutations")

	group.GET("", func(c *gin.Context) {
		status := model.MutationStatus(c.Query("status"))
		list, err := mutations.List(c.Request.Context(), status)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	group.GET("/:id", func(c *gin.Context) {
		m, err := mutations.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	})

	group.POST("", func(c *gin.Context) {
		var req mutationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		result, err := writer.Write(c.Request.Context(), strings.ToUpper(req.Method), req.Target, req.Data, req.Headers)
		if err != nil {
			fail(c, err)
			return
		}
		status := http.StatusOK
		if result.Queued {
			status = http.StatusAccepted
		}
		c.JSON(status, result)
	})

	group.POST("/:id/retry", func(c *gin.Context) {
		retry, err := mutations.Retry(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, retry)
	})
}
