// Package middleware 提供 HTTP 中间件
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"study-forge-api/pkg/errors"
	"study-forge-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error(c.Request.Context(), "panic recovered",
			fmt.Errorf("%v", recovered),
			"stack", string(debug.Stack()),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code":       http.StatusInternalServerError,
			"message":    "internal server error",
			"error_code": errors.CodeInternalError,
			"trace_id":   c.GetString("trace_id"),
		})
	})
}
