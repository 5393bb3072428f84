// Package middleware 提供 HTTP 中间件
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"study-forge-api/pkg/logger"
	"study-forge-api/pkg/utils"
)

// AdminKeyHeader 管理接口密钥头
const AdminKeyHeader = "X-Admin-Key"

// AuthConfig 认证配置
type AuthConfig struct {
	// Required 为 false 时未携带令牌的请求以匿名身份通过
	Required bool
	Secret   string
	Issuer   string
}

// Auth 解析 Bearer 令牌并注入 user_id
func Auth(cfg AuthConfig) gin.HandlerFunc {
	var jwtManager *utils.JWTManager
	if cfg.Secret != "" {
		jwtManager = utils.NewJWTManager(cfg.Secret, cfg.Issuer)
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || jwtManager == nil {
			if cfg.Required {
				abortUnauthorized(c, "missing authorization header")
				return
			}
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization format")
			return
		}

		claims, err := jwtManager.ParseToken(parts[1])
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, utils.ErrExpiredToken) {
				msg = "token expired"
			}
			abortUnauthorized(c, msg)
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		ctx := logger.WithContext(c.Request.Context(), logger.UserIDKey, claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// AdminKey 校验管理接口密钥，未配置密钥时管理接口不可用
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"code":    404,
				"message": "admin api disabled",
			})
			return
		}
		given := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":     403,
				"message":  "invalid admin key",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}
		c.Next()
	}
}

// abortUnauthorized 终止请求并返回 401
func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":     401,
		"message":  msg,
		"trace_id": c.GetString("trace_id"),
	})
}
