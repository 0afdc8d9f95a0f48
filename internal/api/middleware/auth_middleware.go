package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfolioPro/internal/auth"
)

// 上下文中的认证信息键。
const (
	ContextUserID             = "userID"
	ContextRole               = "role"
	ContextMustChangePassword = "mustChangePassword"
	ContextTermsPending       = "termsPending"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// BearerToken 从 Authorization 头中取出令牌。
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// AuthMiddleware 校验访问令牌并将用户 ID、角色与门禁状态注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != auth.TokenTypeAccess {
			abortUnauthorized(c)
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextMustChangePassword, claims.MustChangePassword)
		c.Set(ContextTermsPending, claims.TermsPending)
		c.Next()
	}
}

// CurrentUserID 返回当前登录用户 ID。
func CurrentUserID(c *gin.Context) (uint, bool) {
	value, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok && id != 0
}

// CurrentRole 返回当前登录用户角色。
func CurrentRole(c *gin.Context) string {
	return c.GetString(ContextRole)
}
