package api

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/database"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	return middleware.CurrentUserID(c)
}

// loggerFrom 优先使用请求级 logger，未注入时退回 fallback。
func loggerFrom(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if l := middleware.LoggerFromContext(c); l != slog.Default() || fallback == nil {
		return l
	}
	return fallback
}

// account 是当前登录用户及其 Profile。
type account struct {
	User    database.User
	Profile database.Profile
}

// currentAccount 读取当前用户与 Profile，失败时已写出响应。
func currentAccount(c *gin.Context, db *gorm.DB, log *slog.Logger) (*account, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	ctx := c.Request.Context()
	var user database.User
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortUnauthorized(c)
			return nil, false
		}
		log.Error("load current user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	profile, err := database.GetOrCreateProfile(ctx, db, userID)
	if err != nil {
		log.Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return &account{User: user, Profile: *profile}, true
}

// uintParam 解析路径参数中的正整数 ID。
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}
