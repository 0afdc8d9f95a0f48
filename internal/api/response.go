package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolioPro/internal/validation"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }

// SeeOther 返回 303 与 Location，JSON 中带 redirect 供前端跳转。
func SeeOther(c *gin.Context, location, msg string) {
	c.Header("Location", location)
	c.JSON(http.StatusSeeOther, gin.H{"error": msg, "redirect": location})
}

// ForbiddenRedirect 返回 403 并提示前端跳转。
func ForbiddenRedirect(c *gin.Context, location, msg string) {
	c.JSON(http.StatusForbidden, gin.H{"error": msg, "redirect": location})
}

// Unprocessable 返回 422 与字段级错误。
func Unprocessable(c *gin.Context, errs validation.FieldErrors) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": errs})
}

// bindJSON 解析并校验请求体，失败时写出 422 并返回 false。
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		Unprocessable(c, validation.FromError(err))
		return false
	}
	return true
}

// fieldErrors 判断 err 是否为字段校验错误，是则写出 422。
func fieldErrors(c *gin.Context, err error) bool {
	var fe validation.FieldErrors
	if errors.As(err, &fe) {
		Unprocessable(c, fe)
		return true
	}
	return false
}
