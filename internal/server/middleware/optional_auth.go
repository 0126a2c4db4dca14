package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"yuzu/internal/pkg/ctxutil"
	"yuzu/internal/pkg/jwt"
)

// OptionalAuth 可选认证中间件
// 有合法 Bearer Token 时注入 user_id；没有或校验失败时不拦截请求，
// 下游按临时模式处理（交互照常，跳过持久化）
func OptionalAuth(jwtUtil *jwt.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Next()
			return
		}

		claims, err := jwtUtil.ValidateToken(parts[1])
		if err != nil {
			c.Next()
			return
		}

		ctx := ctxutil.WithUserID(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
