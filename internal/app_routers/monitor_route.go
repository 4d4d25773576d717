package approuters

import (
	"CarryChat/internal/configuration"
	"CarryChat/internal/handler"
	"CarryChat/internal/hub"

	"github.com/gin-gonic/gin"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorService := hub.NewMonitorService(container.Hub)
	monitorHandler := handler.NewMonitorHandler(monitorService)

	monitorGroup := router.Group("/cc/api/monitor")
	{
		monitorGroup.GET("/stats", monitorHandler.GetHubStats)
	}
}
