package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const readyTimeout = 2 * time.Second

// HealthChecker 依赖健康检查
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler 存活与就绪探针
type HealthHandler struct {
	version string
	checks  map[string]HealthChecker
}

// NewHealthHandler 创建探针处理器，checks 中任一失败即视为未就绪
func NewHealthHandler(version string, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{version: version, checks: checks}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// DependencyStatus 单个依赖的检查结果
type DependencyStatus struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// ReadyResponse 就绪检查响应
type ReadyResponse struct {
	Status       string                       `json:"status"`
	Dependencies map[string]*DependencyStatus `json:"dependencies"`
}

// Health 进程信息
// @Summary 健康检查
// @Tags System
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Ready 并发检查所有依赖
// @Summary 就绪检查
// @Tags System
// @Success 200 {object} ReadyResponse
// @Failure 503 {object} ReadyResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	resp := ReadyResponse{Status: "ready", Dependencies: make(map[string]*DependencyStatus, len(h.checks))}
	for name, checker := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := checker.HealthCheck(ctx)
			st := &DependencyStatus{OK: err == nil, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				st.Error = err.Error()
			}
			mu.Lock()
			resp.Dependencies[name] = st
			if err != nil {
				resp.Status = "not_ready"
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Live 存活探针
// @Summary 存活检查
// @Tags System
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "alive"})
}
