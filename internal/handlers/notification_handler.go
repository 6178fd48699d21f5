package handlers

import (
	"net/http"
	"strconv"

	"github.com/MOhammedRiaad/EMS-sub005/internal/middleware"
	"github.com/MOhammedRiaad/EMS-sub005/internal/services"

	"github.com/gin-gonic/gin"
)

// NotificationHandler 站内通知的读取与实时订阅
type NotificationHandler struct {
	service *services.NotificationService
	hub     *services.NotificationHub
}

func NewNotificationHandler(service *services.NotificationService, hub *services.NotificationHub) *NotificationHandler {
	return &NotificationHandler{service: service, hub: hub}
}

// List 获取用户的通知
func (h *NotificationHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "user_id required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	notifications, err := h.service.ListNotifications(c.Request.Context(), middleware.TenantID(c), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list notifications", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// Subscribe WebSocket 实时订阅
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

// RegisterNotificationRoutes 注册路由
func RegisterNotificationRoutes(r *gin.RouterGroup, handler *NotificationHandler) {
	n := r.Group("/notifications")
	{
		n.GET("", handler.List)
		n.GET("/subscribe", handler.Subscribe)
	}
}
