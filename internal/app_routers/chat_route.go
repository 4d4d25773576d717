package approuters

import (
	"CarryChat/internal/configuration"

	"github.com/gin-gonic/gin"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chatRoute := router.Group("/cc/api/chat")
	{
		chatRoute.GET("/conversations/:peerId/messages", container.ChatHandler.GetConversationMessages)
		chatRoute.POST("/conversations/:peerId/read", container.ChatHandler.MarkConversationRead)
		chatRoute.GET("/unread-count", container.ChatHandler.GetUnreadCount)
	}
}
