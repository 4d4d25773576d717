package handler

import (
	"errors"
	"net/http"
	"strconv"

	"CarryChat/internal/service"

	"github.com/gin-gonic/gin"
)

type ChatHandler interface {
	GetConversationMessages(c *gin.Context)
	MarkConversationRead(c *gin.Context)
	GetUnreadCount(c *gin.Context)
}

type chatHandler struct {
	service service.ChatService
}

func NewChatHandler(service service.ChatService) ChatHandler {
	return &chatHandler{
		service: service,
	}
}

// GetConversationMessages returns one page of the history between the
// requesting user and a peer, oldest first.
func (h *chatHandler) GetConversationMessages(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "userId is required",
		})
		return
	}
	peerID := c.Param("peerId")

	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid page number",
		})
		return
	}

	msgs, err := h.service.GetConversation(c.Request.Context(), userID, peerID, pageNumber)
	if err != nil {
		if errors.Is(err, service.ErrUnknownPeer) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Peer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get messages",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
	})
}

// MarkConversationRead raises every unseen message from the peer to seen.
// This is the catch-up acknowledgement for receivers that fetched history
// over HTTP instead of receiving a live push.
func (h *chatHandler) MarkConversationRead(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "userId is required",
		})
		return
	}
	peerID := c.Param("peerId")

	updated, err := h.service.MarkConversationRead(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to mark conversation read",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"updated": updated,
	})
}

// GetUnreadCount returns how many messages addressed to the user are not yet
// seen.
func (h *chatHandler) GetUnreadCount(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "userId is required",
		})
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count unread messages",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unread": count,
	})
}
