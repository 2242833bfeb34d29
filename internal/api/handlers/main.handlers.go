package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupMainHandlers registers the service info and metrics endpoints
func SetupMainHandlers(router *gin.RouterGroup, info map[string]string) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
