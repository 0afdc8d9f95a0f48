package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"portfolioPro/internal/auth"
)

const (
	passwordChangeRequiredMessage = "password change required"
	termsRequiredMessage          = "please accept the terms and conditions to continue"

	// ChangePasswordPath 与 AcceptTermsPath 是门禁提示前端跳转的路径。
	ChangePasswordPath = "/change-password"
	AcceptTermsPath    = "/accept-terms"
)

// RequirePasswordChangeCompletedMiddleware 阻止未完成改密的账号访问业务接口。
// 仅依赖 access token 内的 must_change_password 声明，避免每次请求都查库。
func RequirePasswordChangeCompletedMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(ContextMustChangePassword) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    passwordChangeRequiredMessage,
				"redirect": ChangePasswordPath,
			})
			return
		}
		c.Next()
	}
}

// RequireTermsAcceptedMiddleware 阻止尚未同意条款的账号（代理创建的学生）访问业务接口。
func RequireTermsAcceptedMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(ContextTermsPending) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    termsRequiredMessage,
				"redirect": AcceptTermsPath,
			})
			return
		}
		c.Next()
	}
}

// RequireRole 只放行指定角色。
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, CurrentRole(c)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireStaff 只放行管理员。
func RequireStaff() gin.HandlerFunc {
	return RequireRole(auth.RoleStaff, auth.RoleSuperuser)
}
