package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"study-forge-api/internal/interfaces/http/dto"
	"study-forge-api/pkg/logger"
)

// CacheClearer 响应缓存清理
type CacheClearer interface {
	Clear(ctx context.Context, pattern string) (int, error)
}

// CreditAdmin 额度管理
type CreditAdmin interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error)
}

// AdminHandler 管理接口
type AdminHandler struct {
	cache   CacheClearer
	credits CreditAdmin
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(cache CacheClearer, credits CreditAdmin) *AdminHandler {
	return &AdminHandler{cache: cache, credits: credits}
}

// ClearCache 清理响应缓存
// @Summary 清理响应缓存
// @Tags Admin
// @Param pattern query string false "键模式，默认全部"
// @Success 200 {object} dto.Response[dto.CacheClearResponse]
// @Router /v1/admin/cache [delete]
func (h *AdminHandler) ClearCache(c *gin.Context) {
	pattern := strings.TrimSpace(c.Query("pattern"))
	deleted, err := h.cache.Clear(c.Request.Context(), pattern)
	if err != nil {
		logger.Error(c.Request.Context(), "cache clear failed", err, "pattern", pattern)
		dto.FromError(c, err)
		return
	}
	logger.Info(c.Request.Context(), "response cache cleared", "pattern", pattern, "deleted", deleted)
	dto.Success(c, &dto.CacheClearResponse{Pattern: pattern, Deleted: deleted})
}

// GetCredits 查询用户额度
// @Summary 查询用户额度
// @Tags Admin
// @Param uid path string true "用户 ID"
// @Success 200 {object} dto.Response[dto.CreditBalanceResponse]
// @Router /v1/admin/credits/{uid} [get]
func (h *AdminHandler) GetCredits(c *gin.Context) {
	userID := c.Param("uid")
	balance, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, &dto.CreditBalanceResponse{UserID: userID, Balance: balance})
}

// GrantCredits 发放额度
// @Summary 发放用户额度
// @Tags Admin
// @Param uid path string true "用户 ID"
// @Param body body dto.CreditGrantRequest true "发放数量"
// @Success 200 {object} dto.Response[dto.CreditBalanceResponse]
// @Router /v1/admin/credits/{uid} [post]
func (h *AdminHandler) GrantCredits(c *gin.Context) {
	var req dto.CreditGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "amount must be a positive integer")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "admin_grant"
	}

	userID := c.Param("uid")
	balance, err := h.credits.Credit(c.Request.Context(), userID, req.Amount, reason)
	if err != nil {
		dto.FromError(c, err)
		return
	}
	logger.Info(c.Request.Context(), "credits granted", "user_id", userID, "amount", req.Amount)
	c.JSON(http.StatusOK, dto.Response[*dto.CreditBalanceResponse]{
		Code:    http.StatusOK,
		Message: "credited",
		Data:    &dto.CreditBalanceResponse{UserID: userID, Balance: balance},
		TraceID: c.GetString("trace_id"),
	})
}
