package routes

import (
	"context"
	"net/http"

	"floodwatch/internal/model"
	"floodwatch/internal/service/report"

	"github.com/gin-gonic/gin"
)

// ReportSubmitter stores and submits flood reports
type ReportSubmitter interface {
	Submit(ctx context.Context, input model.ReportInput) (report.SubmitResult, error)
	List(ctx context.Context, unsyncedOnly bool) ([]model.FloodReport, error)
}

// SetupReportHandlers registers the flood report endpoints
func SetupReportHandlers(router *gin.RouterGroup, reports ReportSubmitter) {
	group := router.Group("/reports")

	group.GET("", func(c *gin.Context) {
		list, err := reports.List(c.Request.Context(), c.Query("unsynced") == "true")
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	group.POST("", func(c *gin.Context) {
		var input model.ReportInput
		if err := c.ShouldBindJSON(&input); err != nil {
			badRequest(c, err)
			return
		}
		result, err := reports.Submit(c.Request.Context(), input)
		if err != nil {
			fail(c, err)
			return
		}
		status := http.StatusCreated
		if result.Offline {
			status = http.StatusAccepted
		}
		c.JSON(status, result)
	})
}
