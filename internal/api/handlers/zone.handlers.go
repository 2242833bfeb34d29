package routes

import (
	"context"
	"net/http"

	"floodwatch/internal/model"
	"floodwatch/internal/service/zone"

	"github.com/gin-gonic/gin"
)

// AlertStore exposes the cached alerts and their read state
type AlertStore interface {
	Alerts(ctx context.Context, unreadOnly bool) ([]model.Alert, error)
	MarkRead(ctx context.Context, id string) error
	CachedZones(ctx context.Context) ([]model.HazardZone, error)
}

// ContactDirectory is the emergency contact list
type ContactDirectory interface {
	Save(ctx context.Context, contact model.EmergencyContact) (model.EmergencyContact, error)
	List(ctx context.Context, typ model.ContactType) ([]model.EmergencyContact, error)
	Remove(ctx context.Context, id string) error
}

// SetupAlertHandlers registers the alert and emergency contact endpoints
func SetupAlertHandlers(router *gin.RouterGroup, alerts AlertStore, contacts ContactDirectory) {
	router.GET("/alerts", func(c *gin.Context) {
		list, err := alerts.Alerts(c.Request.Context(), c.Query("unread") == "true")
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	router.GET("/zones", func(c *gin.Context) {
		zones, err := alerts.CachedZones(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, zone.FeatureCollection(zones))
	})

	router.POST("/alerts/:id/read", func(c *gin.Context) {
		if err := alerts.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	group := router.Group("/contacts")

	group.GET("", func(c *gin.Context) {
		list, err := contacts.List(c.Request.Context(), model.ContactType(c.Query("type")))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	group.PUT("", func(c *gin.Context) {
		var contact model.EmergencyContact
		if err := c.ShouldBindJSON(&contact); err != nil {
			badRequest(c, err)
			return
		}
		saved, err := contacts.Save(c.Request.Context(), contact)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, saved)
	})

	group.DELETE("/:id", func(c *gin.Context) {
		if err := contacts.Remove(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}
