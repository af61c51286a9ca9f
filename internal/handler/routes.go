package handler

import "github.com/gin-gonic/gin"

// RegisterSufragioRoutes mounts the voting record endpoints on group. history may be nil.
func RegisterSufragioRoutes(group *gin.RouterGroup, sufragios *SufragioHandler, history *HistoryHandler) {
	group.POST("", sufragios.Create)
	group.POST("/verify", sufragios.CheckIn)
	group.POST("/cast", sufragios.CastBallot)
	group.GET("/:id", sufragios.Get)
	if history == nil {
		return
	}
	group.GET("/:id/history", history.History)
	group.GET("/:id/history/verify", history.Verify)
	group.GET("/:id/history/export", history.Export)
	group.GET("/:id/projection", history.Projection)
	group.GET("/:id/projection/revisions", history.ProjectionRevisions)
}

// RegisterOpsRoutes mounts health, readiness and metrics endpoints.
func RegisterOpsRoutes(r gin.IRoutes, metrics *MetricsHandler) {
	r.GET("/health", metrics.Health)
	r.GET("/ready", metrics.Ready)
	r.GET("/metrics", metrics.Prometheus)
	r.GET("/metrics/summary", metrics.Summary)
}
