package api

import (
	"net/http"

	routes "floodwatch/internal/api/handlers"

	"github.com/gin-gonic/gin"
)

// Services are the components the local API drives
type Services struct {
	Info         map[string]string
	Monitor      routes.MonitorController
	Sync         routes.SyncRunner
	Mutations    routes.MutationQueue
	Writer       routes.MutationWriter
	Reports      routes.ReportSubmitter
	Alerts       routes.AlertStore
	Contacts     routes.ContactDirectory
	Connectivity routes.Connectivity
	Events       http.Handler
}

// SetupRouter initializes all application routes
func SetupRouter(r *gin.Engine, s Services) {
	// API group
	api := r.Group("/api")

	// Setup main handlers
	routes.SetupMainHandlers(r.Group(""), s.Info)

	routes.SetupMonitorHandlers(api, s.Monitor)
	routes.SetupSyncHandlers(api, s.Sync, s.Mutations, s.Monitor, s.Connectivity)
	routes.SetupQueueHandlers(api, s.Mutations, s.Writer)
	routes.SetupReportHandlers(api, s.Reports)
	routes.SetupAlertHandlers(api, s.Alerts, s.Contacts)

	if s.Events != nil {
		api.GET("/events", gin.WrapH(s.Events))
	}
}
