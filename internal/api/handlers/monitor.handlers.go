package routes

import (
	"context"
	"net/http"

	"floodwatch/internal/model"
	"floodwatch/internal/service/geofence"
	"floodwatch/internal/service/monitor"

	"github.com/gin-gonic/gin"
)

// MonitorController is the monitoring session surface exposed over HTTP
type MonitorController interface {
	Start(ctx context.Context) (monitor.Session, error)
	Stop()
	CheckNow(ctx context.Context) (geofence.Result, error)
	State() monitor.State
	Session() monitor.Session
	Membership() model.ZoneMembership
}

// SetupMonitorHandlers registers the monitoring session endpoints
func SetupMonitorHandlers(router *gin.RouterGroup, m MonitorController) {
	group := router.Group("/monitor")

	group.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":   m.State().String(),
			"session": m.Session(),
		})
	})

	group.POST("/start", func(c *gin.Context) {
		session, err := m.Start(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"state":   m.State().String(),
			"session": session,
		})
	})

	group.POST("/stop", func(c *gin.Context) {
		m.Stop()
		c.JSON(http.StatusOK, gin.H{
			"status": "success",
			"state":  m.State().String(),
		})
	})

	group.POST("/check", func(c *gin.Context) {
		result, err := m.CheckNow(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"entered": result.Entered,
			"left":    result.Left,
			"membership": result.Membership,
		})
	})

	router.GET("/zones/membership", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Membership())
	})
}
