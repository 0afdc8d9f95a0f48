package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/auth"
	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/metrics"
	"portfolioPro/internal/validation"
)

const refreshTokenCookieName = "refresh_token"
const refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"

// 安全事件类型。
const (
	eventLoginFailed      = "login_failed"
	eventLoginRateLimited = "login_rate_limited"
	eventLoginLocked      = "login_locked"
	eventBlockedLogin     = "blocked_login"
)

// AuthHandler 处理注册、登录、刷新、退出、改密与同意条款。
type AuthHandler struct {
	db                    *gorm.DB
	authService           *auth.AuthService
	redis                 redis.UniversalClient
	logger                *slog.Logger
	recorder              *metrics.Recorder
	loginRateLimitPerHour int
	loginLockThreshold    int
	loginLockTTL          time.Duration
	cookieDomain          string
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, recorder *metrics.Recorder, cfg config.AuthConfig, cookieDomain string) *AuthHandler {
	return &AuthHandler{
		db:                    db,
		authService:           authService,
		redis:                 redisClient,
		logger:                logger,
		recorder:              recorder,
		loginRateLimitPerHour: cfg.LoginRateLimitPerHour,
		loginLockThreshold:    cfg.LoginLockThreshold,
		loginLockTTL:          cfg.LoginLockTTL,
		cookieDomain:          cookieDomain,
	}
}

type registerRequest struct {
	Username        string `json:"username" binding:"notblank,min=3,max=150"`
	Email           string `json:"email" binding:"notblank,email,max=254"`
	Password        string `json:"password" binding:"required,min=8,max=72"`
	PasswordConfirm string `json:"password_confirm" binding:"required,eqfield=Password"`
	AgreeTerms      bool   `json:"agree_terms"`
	Ref             string `json:"ref"`
}

// Register 创建普通用户账号；ref 为代理用户名时记录推荐关系。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.Ref = strings.TrimSpace(req.Ref)

	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger).With(slog.String("username", req.Username))

	errs := validation.FieldErrors{}
	if !req.AgreeTerms {
		errs.Add("agree_terms", "You must agree to the terms and conditions")
	}
	var n int64
	if err := h.db.WithContext(ctx).Model(&database.User{}).Where("username = ?", req.Username).Count(&n).Error; err != nil {
		logger.Error("register lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if n > 0 {
		errs.Add("username", "A user with that username already exists.")
	}
	if err := h.db.WithContext(ctx).Model(&database.User{}).Where("LOWER(email) = LOWER(?)", req.Email).Count(&n).Error; err != nil {
		logger.Error("register lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if n > 0 {
		errs.Add("email", "This email is already registered.")
	}
	if len(errs) > 0 {
		logger.Info("register rejected", slog.Any("fields", errs))
		Unprocessable(c, errs)
		return
	}

	hashed, err := h.authService.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var user database.User
	var profile *database.Profile
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user = database.User{Username: req.Username, Email: req.Email, PasswordHash: hashed, IsActive: true}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		profile, err = database.CreateProfile(ctx, tx, user, database.ProfileOptions{TermsAccepted: true})
		if err != nil {
			return err
		}
		return h.recordReferral(tx, req.Ref, user)
	})
	if err != nil {
		logger.Error("create user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	metrics.ObserveRegistration(profile.UserType)
	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	h.issueTokens(c, http.StatusCreated, user, profile)
}

// recordReferral 在 ref 指向代理时记录推荐；未知或非代理的 ref 被忽略。
func (h *AuthHandler) recordReferral(tx *gorm.DB, ref string, referred database.User) error {
	if ref == "" || strings.EqualFold(ref, referred.Username) {
		return nil
	}
	var referrer database.User
	err := tx.Joins("JOIN profiles ON profiles.user_id = users.id").
		Where("users.username = ? AND profiles.user_type = ?", ref, database.UserTypeAgent).
		First(&referrer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.Create(&database.Referral{
		ReferrerID:   referrer.ID,
		ReferredID:   referred.ID,
		RegisteredAt: time.Now(),
	}).Error
}

type loginRequest struct {
	Username string `json:"username" binding:"notblank"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken        string `json:"access_token"`
	TokenType          string `json:"token_type"`
	ExpiresIn          int    `json:"expires_in"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
	TermsPending       bool   `json:"terms_pending"`
	Redirect           string `json:"redirect"`
}

func (h *AuthHandler) security(c *gin.Context, kind, username string, userID uint, detail string) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordSecurityEvent(metrics.SecurityEvent{
		Kind:     kind,
		UserID:   userID,
		Username: username,
		IP:       c.ClientIP(),
		Detail:   detail,
	})
}

// Login 校验口令并返回 Token 与按角色的跳转路径。
func (h *AuthHandler) Login(c *gin.Context) {
	ip := c.ClientIP()
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}
	username := strings.ToLower(strings.TrimSpace(req.Username))

	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger).With(slog.String("username", req.Username))

	// 速率限制：每 IP+用户名 每小时固定次数
	rateKey := "rate:login:" + ip + ":" + username + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if h.loginRateLimitPerHour > 0 && count > int64(h.loginRateLimitPerHour) {
		h.security(c, eventLoginRateLimited, username, 0, "")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}

	lockKey := "lock:login:" + username
	if ttl, _ := h.redis.TTL(ctx, lockKey).Result(); ttl > 0 {
		h.security(c, eventLoginLocked, username, 0, "")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "account temporarily locked"})
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("LOWER(username) = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			h.security(c, eventLoginFailed, username, 0, "unknown user")
			_ = h.incrementLoginFail(ctx, username)
			Unauthorized(c)
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !h.authService.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		h.security(c, eventLoginFailed, username, user.ID, "password mismatch")
		_ = h.incrementLoginFail(ctx, username)
		Unauthorized(c)
		return
	}

	if !user.IsActive {
		Forbidden(c, "account is disabled")
		return
	}
	profile, err := database.GetOrCreateProfile(ctx, h.db, user.ID)
	if err != nil {
		logger.Error("login profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if profile.IsBlocked {
		h.security(c, eventBlockedLogin, username, user.ID, profile.BlockReason)
		c.JSON(http.StatusForbidden, gin.H{"error": "account is blocked", "reason": profile.BlockReason})
		return
	}

	// 登录成功：清理失败计数
	_ = h.redis.Del(ctx, "lock:login:fail:"+username).Err()
	now := time.Now()
	if err := h.db.WithContext(ctx).Model(&user).UpdateColumn("last_login_at", now).Error; err != nil {
		logger.Warn("update last login failed", slog.Any("error", err))
	}

	h.issueTokens(c, http.StatusOK, user, profile)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh 校验刷新令牌并颁发新的 TokenPair，角色与门禁状态从数据库重新读取。
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		Unauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger)

	claims, err := h.authService.ValidateToken(refreshToken)
	if err != nil {
		logger.Info("refresh token invalid", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		logger.Info("refresh token wrong type", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return
	}
	if claims.ID == "" {
		logger.Info("refresh token missing jti")
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.redis.Get(ctx, key).Err(); err == nil {
		logger.Info("refresh token revoked", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	} else if !errors.Is(err, redis.Nil) {
		logger.Error("refresh token blacklist lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Preload("Profile").First(&user, claims.UserID).Error; err != nil {
		logger.Info("refresh user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if !user.IsActive || (user.Profile != nil && user.Profile.IsBlocked) {
		Unauthorized(c)
		return
	}

	// 旋转旧刷新令牌，防止重复使用。
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	h.issueTokens(c, http.StatusOK, user, user.Profile)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required,max=72"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" binding:"required,eqfield=NewPassword"`
}

// ChangePassword 校验当前密码并更新为新密码，清除强制改密标记。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).Preload("Profile").First(&user, userID).Error; err != nil {
		logger.Info("change password: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	if !h.authService.CheckPasswordHash(req.CurrentPassword, user.PasswordHash) {
		logger.Info("change password: current password mismatch")
		Unprocessable(c, validation.FieldErrors{"current_password": "Your old password was entered incorrectly."})
		return
	}

	if strings.TrimSpace(req.NewPassword) == strings.TrimSpace(req.CurrentPassword) {
		Unprocessable(c, validation.FieldErrors{"new_password": "new password must be different from current password"})
		return
	}

	hashed, err := h.authService.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("change password: hash failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if err := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"password_hash":        hashed,
		"must_change_password": false,
	}).Error; err != nil {
		logger.Error("change password: update failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	user.MustChangePassword = false

	if refreshToken, err := c.Cookie(refreshTokenCookieName); err == nil && refreshToken != "" {
		if claims, err := h.authService.ValidateToken(refreshToken); err == nil && claims.TokenType == auth.TokenTypeRefresh && claims.ID != "" {
			key := refreshTokenBlacklistKeyPrefix + claims.ID
			if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
				logger.Warn("change password: revoke refresh failed", slog.Any("error", err))
			}
		}
	}

	logger.Info("password changed")
	h.issueTokens(c, http.StatusOK, user, user.Profile)
}

type acceptTermsRequest struct {
	AgreeTerms bool `json:"agree_terms"`
}

// AcceptTerms 记录用户同意条款，并重新签发不带门禁标记的令牌。
func (h *AuthHandler) AcceptTerms(c *gin.Context) {
	var req acceptTermsRequest
	if !bindJSON(c, &req) {
		return
	}
	if !req.AgreeTerms {
		Unprocessable(c, validation.FieldErrors{"agree_terms": "You must agree to the terms and conditions"})
		return
	}
	acct, ok := currentAccount(c, h.db, loggerFrom(c, h.logger))
	if !ok {
		return
	}
	now := time.Now()
	err := h.db.WithContext(c.Request.Context()).Model(&database.Profile{}).
		Where("id = ?", acct.Profile.ID).
		Updates(map[string]any{"terms_accepted": true, "terms_accepted_at": now}).Error
	if err != nil {
		loggerFrom(c, h.logger).Error("accept terms failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	acct.Profile.TermsAccepted = true
	acct.Profile.TermsAcceptedAt = &now
	h.issueTokens(c, http.StatusOK, acct.User, &acct.Profile)
}

// Me 返回当前用户的基本信息。
func (h *AuthHandler) Me(c *gin.Context) {
	acct, ok := currentAccount(c, h.db, loggerFrom(c, h.logger))
	if !ok {
		return
	}
	role := auth.RoleFor(acct.User, &acct.Profile)
	c.JSON(http.StatusOK, gin.H{
		"id":                   acct.User.ID,
		"username":             acct.User.Username,
		"email":                acct.User.Email,
		"role":                 role,
		"user_type":            acct.Profile.UserType,
		"first_name":           acct.Profile.FirstName,
		"last_name":            acct.Profile.LastName,
		"must_change_password": acct.User.MustChangePassword,
		"terms_accepted":       acct.Profile.TermsAccepted,
		"portfolios_remaining": acct.Profile.PortfoliosRemaining,
		"template_changes":     acct.Profile.TemplateChangeCount,
		"max_template_changes": acct.Profile.MaxTemplateChanges,
	})
}

// redirectFor 计算登录后的去向：先改密，再同意条款，最后按角色。
func redirectFor(id auth.Identity) string {
	switch {
	case id.MustChangePassword:
		return middleware.ChangePasswordPath
	case id.TermsPending:
		return middleware.AcceptTermsPath
	}
	return auth.HomeFor(id.Role)
}

func (h *AuthHandler) issueTokens(c *gin.Context, status int, user database.User, profile *database.Profile) {
	id := auth.IdentityFor(user, profile)
	tokenPair, err := h.authService.GenerateTokenPair(id)
	if err != nil {
		loggerFrom(c, h.logger).Error("generate token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.setRefreshCookie(c, tokenPair.RefreshToken)
	c.JSON(status, tokenResponse{
		AccessToken:        tokenPair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		Role:               id.Role,
		MustChangePassword: id.MustChangePassword,
		TermsPending:       id.TermsPending,
		Redirect:           redirectFor(id),
	})
}

// Logout 将刷新令牌加入黑名单，防止继续使用。
func (h *AuthHandler) Logout(c *gin.Context) {
	refreshToken := h.extractRefreshToken(c)
	if refreshToken == "" {
		BadRequest(c, "refresh token missing")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger)

	claims, err := h.authService.ValidateToken(refreshToken)
	if err != nil {
		logger.Info("logout token invalid", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if claims.TokenType != auth.TokenTypeRefresh || claims.ID == "" {
		logger.Info("logout wrong token", slog.String("token_type", claims.TokenType))
		Unauthorized(c)
		return
	}

	key := refreshTokenBlacklistKeyPrefix + claims.ID
	if err := h.revokeRefreshToken(ctx, key, claims.ExpiresAt); err != nil {
		logger.Error("logout revoke token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	// 清除 Cookie。
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Secure:   h.isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   h.getCookieDomain(),
	})
	c.Status(http.StatusOK)
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}

	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	return ""
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, refreshToken string) {
	maxAge := int(h.authService.RefreshTokenTTL().Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Hour.Seconds())
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    refreshToken,
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   h.isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Domain:   h.getCookieDomain(),
		Expires:  time.Now().Add(h.authService.RefreshTokenTTL()),
	})
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, key string, expiresAt *jwt.NumericDate) error {
	var ttl time.Duration
	if expiresAt == nil {
		ttl = h.authService.RefreshTokenTTL()
	} else {
		ttl = time.Until(expiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, key, "revoked", ttl).Err()
}

func (h *AuthHandler) isHTTPSRequest(c *gin.Context) bool {
	if c.Request == nil {
		return false
	}
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}

func (h *AuthHandler) getCookieDomain() string { return strings.TrimSpace(h.cookieDomain) }

func (h *AuthHandler) incrementLoginFail(ctx context.Context, username string) error {
	failKey := "lock:login:fail:" + username
	count, err := incrWithTTL(ctx, h.redis, failKey, h.loginLockTTL)
	if err != nil {
		return err
	}
	if h.loginLockThreshold > 0 && count >= int64(h.loginLockThreshold) {
		_ = h.redis.Set(ctx, "lock:login:"+username, "1", h.loginLockTTL).Err()
	}
	return nil
}
