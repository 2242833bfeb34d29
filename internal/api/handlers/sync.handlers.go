package routes

import (
	"context"
	"net/http"

	"floodwatch/internal/model"
	"floodwatch/internal/service/syncer"

	"github.com/gin-gonic/gin"
)

// SyncRunner runs and reports sync passes
type SyncRunner interface {
	Sync(ctx context.Context) (syncer.Result, error)
	Status() model.SyncStatus
}

// Connectivity reports backend reachability
type Connectivity interface {
	Online() bool
}

// SetupSyncHandlers registers the status and manual sync endpoints
func SetupSyncHandlers(router *gin.RouterGroup, sync SyncRunner, mutations MutationQueue, m MonitorController, conn Connectivity) {
	router.GET("/status", func(c *gin.Context) {
		pending, err := mutations.PendingCount(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"online":  conn.Online(),
			"pending": pending,
			"sync":    sync.Status(),
			"monitor": m.State().String(),
		})
	})

	router.POST("/sync", func(c *gin.Context) {
		result, err := sync.Sync(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})
}
