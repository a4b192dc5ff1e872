package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the control surface with the given router group.
//
// Endpoints (under the group, typically /v1):
//
//	GET    /status
//	POST   /module/load          {path}
//	POST   /module/reload
//	POST   /module/restart
//	POST   /module/kill
//	POST   /module/dump          {path?}
//	POST   /script               {path}
//	POST   /timer/start
//	POST   /timer/reset
//	GET    /logs
//	DELETE /logs
//	GET    /variables
//	GET    /processes
//	GET    /settings
//	PUT    /settings/:key        {value}
//	DELETE /settings
//	GET    /settings/widgets
//	GET    /performance
//	DELETE /performance
//	DELETE /telemetry/slowest
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/status", h.HandleStatus)

	mod := rg.Group("/module")
	{
		mod.POST("/load", h.HandleLoad)
		mod.POST("/reload", h.HandleReload)
		mod.POST("/restart", h.HandleRestart)
		mod.POST("/kill", h.HandleKill)
		mod.POST("/dump", h.HandleDump)
	}
	rg.POST("/script", h.HandleScript)

	rg.POST("/timer/start", h.HandleTimerStart)
	rg.POST("/timer/reset", h.HandleTimerReset)

	rg.GET("/logs", h.HandleLogs)
	rg.DELETE("/logs", h.HandleClearLogs)
	rg.GET("/variables", h.HandleVariables)
	rg.GET("/processes", h.HandleProcesses)

	set := rg.Group("/settings")
	{
		set.GET("", h.HandleSettings)
		set.DELETE("", h.HandleResetSettings)
		set.GET("/widgets", h.HandleWidgets)
		set.PUT("/:key", h.HandleSetSetting)
	}

	rg.GET("/performance", h.HandlePerformance)
	rg.DELETE("/performance", h.HandleClearPerformance)
	rg.DELETE("/telemetry/slowest", h.HandleResetSlowest)
}

// NewRouter builds the full router: recovery, the /v1 control surface and
// /metrics served from gatherer.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	RegisterRoutes(router.Group("/v1"), h)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}
