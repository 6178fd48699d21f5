package handlers

import (
	"net/http"
	"strconv"

	"github.com/MOhammedRiaad/EMS-sub005/internal/middleware"
	"github.com/MOhammedRiaad/EMS-sub005/internal/models"
	"github.com/MOhammedRiaad/EMS-sub005/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 管理自动化规则与执行记录
// 规则的动作/条件由前端传递 JSON；执行记录只读（可取消）。
type AutomationHandler struct {
	rules   *services.RuleService
	trigger *services.TriggerService
}

func NewAutomationHandler(rules *services.RuleService, trigger *services.TriggerService) *AutomationHandler {
	return &AutomationHandler{rules: rules, trigger: trigger}
}

// ListRules 获取当前租户的规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取单条规则
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	rule, err := h.rules.GetRule(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.rules.CreateRule(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 整体替换规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.rules.UpdateRule(c.Request.Context(), middleware.TenantID(c), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}

	if err := h.rules.DeleteRule(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListExecutions 分页获取执行记录
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}

	executions, total, err := h.rules.ListExecutions(c.Request.Context(), middleware.TenantID(c), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 {
		limit = 50
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:  executions,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: pages,
	})
}

// CancelExecution 取消一条待执行记录
func (h *AutomationHandler) CancelExecution(c *gin.Context) {
	id := c.Param("id")
	if err := h.rules.CancelExecution(c.Request.Context(), middleware.TenantID(c), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "pending execution not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to cancel execution", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "cancelled"})
}

// FireEventRequest 手动注入业务事件（调试/回放用途）
type FireEventRequest struct {
	TriggerType models.TriggerType       `json:"trigger_type" binding:"required"`
	Context     services.TriggerContext  `json:"context"`
}

// FireEvent 以当前租户身份注入一个触发事件
func (h *AutomationHandler) FireEvent(c *gin.Context) {
	var req FireEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if !req.TriggerType.IsValid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "unsupported trigger type"})
		return
	}

	// The request body cannot widen scope past the caller's tenant.
	req.Context.TenantID = middleware.TenantID(c)
	if err := h.trigger.TriggerEvent(c.Request.Context(), req.TriggerType, &req.Context); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fire event", Message: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, SuccessResponse{Message: "event accepted"})
}

func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/:id", handler.GetRule)
		auto.PUT("/rules/:id", handler.UpdateRule)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.GET("/executions", handler.ListExecutions)
		auto.POST("/executions/:id/cancel", handler.CancelExecution)
		auto.POST("/events", handler.FireEvent)
	}
}
