package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"portfolioPro/internal/admin"
	"portfolioPro/internal/agent"
	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/auth"
	"portfolioPro/internal/config"
	"portfolioPro/internal/metrics"
	"portfolioPro/internal/payment"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/worker"
)

// Deps 汇总路由所需的依赖。Objects、Queue、Notifier、Scanner 可以为 nil。
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    redis.UniversalClient
	Auth     *auth.AuthService
	Payments *payment.Service
	Objects  storage.ObjectStore
	Queue    TaskQueue
	Notifier worker.Notifier
	Renderer *render.Renderer
	Recorder *metrics.Recorder
	Scanner  Scanner
	Logger   *slog.Logger
}

// RegisterRoutes 注册 API 路由：/api/v1 业务接口、/p/:slug 公开页面与内部监控。
func RegisterRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	var mailer admin.Mailer
	if d.Queue != nil {
		mailer = d.Queue
	}

	authHandler := NewAuthHandler(d.DB, d.Auth, d.Redis, d.Logger, d.Recorder, cfg.Auth, cfg.API.CookieDomain)
	portfolioHandler := NewPortfolioHandler(d.DB, d.Objects, d.Queue, d.Renderer, d.Logger)
	paymentHandler := NewPaymentHandler(d.DB, d.Payments, d.Objects, d.Queue, d.Logger)
	agentHandler := NewAgentHandler(d.DB, agent.NewService(d.DB, cfg.API.SiteURL), d.Queue, d.Logger)
	adminHandler := NewAdminHandler(d.DB, admin.NewService(d.DB, d.Objects, mailer, d.Notifier, admin.Options{
		SiteURL: cfg.API.SiteURL,
		Logger:  d.Logger,
	}), d.Logger)
	assetHandler := NewAssetHandler(d.DB, d.Objects, d.Scanner, cfg.Limits, d.Logger)
	wsHandler := NewWsHandler(d.Redis, d.Auth, d.Logger, cfg.API.AllowedOrigins)
	monitoringHandler := NewMonitoringHandler(d.Recorder)

	authMiddleware := middleware.AuthMiddleware(d.Auth)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()
	termsGate := middleware.RequireTermsAcceptedMiddleware()

	router.GET("/p/:slug", portfolioHandler.Public)

	internal := router.Group("/internal", middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
	{
		internal.GET("/monitoring", monitoringHandler.Snapshot)
		internal.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authHandler.Logout)
			// 改密与同意条款本身不经过对应的门禁。
			authGroup.GET("/me", authMiddleware, authHandler.Me)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
			authGroup.POST("/accept-terms", authMiddleware, passwordGate, authHandler.AcceptTerms)
		}

		app := v1.Group("", authMiddleware, passwordGate, termsGate)

		portfolios := app.Group("/portfolios")
		{
			portfolios.GET("", portfolioHandler.List)
			portfolios.POST("", portfolioHandler.Create)
			portfolios.DELETE("/:id", portfolioHandler.Delete)
			portfolios.GET("/:id/progress", portfolioHandler.Progress)
			portfolios.GET("/:id/edit", portfolioHandler.Edit)
			portfolios.GET("/:id/steps/:step", portfolioHandler.GetStep)
			portfolios.POST("/:id/steps/:step", portfolioHandler.SubmitStep)
			portfolios.DELETE("/:id/steps/:step/entries/:entry", portfolioHandler.DeleteEntry)
			portfolios.GET("/:id/form-data", portfolioHandler.FormData)
			portfolios.GET("/:id/preview", portfolioHandler.Preview)
			portfolios.GET("/:id/templates", portfolioHandler.Templates)
			portfolios.POST("/:id/template", portfolioHandler.SelectTemplate)
			portfolios.POST("/:id/pdf-template", portfolioHandler.SelectPDFTemplate)
			portfolios.POST("/:id/pdf", portfolioHandler.RequestPDF)
			portfolios.GET("/:id/pdf", portfolioHandler.GetPDF)
		}

		payments := app.Group("/payments")
		{
			payments.POST("/initiate", paymentHandler.Initiate)
			payments.POST("/coupon", paymentHandler.RedeemCoupon)
			payments.POST("/callback", paymentHandler.Callback)
			payments.GET("/invoices", paymentHandler.Invoices)
			payments.GET("/invoices/:id/download", paymentHandler.DownloadInvoice)
			payments.POST("/invoices/:id/email", paymentHandler.EmailInvoice)
		}

		assets := app.Group("/assets")
		{
			assets.POST("/photo", assetHandler.UploadPhoto)
			assets.GET("/photo", assetHandler.PhotoURL)
			assets.POST("/resume", assetHandler.UploadResume)
			assets.GET("/resume", assetHandler.ResumeURL)
		}

		agents := app.Group("/agent", middleware.RequireRole(auth.RoleAgent))
		{
			agents.GET("/dashboard", agentHandler.Dashboard)
			agents.POST("/invitations", agentHandler.Invite)
			agents.GET("/payments/pending", agentHandler.PendingPayment)
			agents.POST("/payments/bulk", agentHandler.BulkPay)
			agents.GET("/payments", agentHandler.Payments)
			agents.GET("/exports/referrals.csv", agentHandler.ExportReferrals)
			agents.GET("/exports/invitations.csv", agentHandler.ExportInvitations)
			agents.POST("/exports/roster", agentHandler.Roster)
		}

		admins := app.Group("/admin", middleware.RequireStaff())
		{
			admins.GET("/stats", adminHandler.Stats)
			admins.GET("/approvals", adminHandler.Approvals)
			admins.POST("/approvals/:id/approve", adminHandler.Approve)
			admins.POST("/approvals/:id/reject", adminHandler.Reject)
			admins.GET("/users", adminHandler.Users)
			admins.GET("/agents", adminHandler.Agents)
			admins.POST("/users/:id/block", adminHandler.Block)
			admins.POST("/users/:id/unblock", adminHandler.Unblock)
			admins.GET("/users/:id/delete", adminHandler.PreviewDelete)
			admins.DELETE("/users/:id", adminHandler.DeleteUser)
			admins.GET("/payments", adminHandler.Payments)
			admins.GET("/reports", adminHandler.Reports)
			admins.GET("/exports/users.csv", adminHandler.ExportUsers)
			admins.GET("/exports/top-agents.csv", adminHandler.ExportTopAgents)
			admins.POST("/broadcast", adminHandler.Broadcast)
			admins.GET("/notifications", adminHandler.Notifications)
			admins.POST("/notifications/:id/read", adminHandler.MarkNotificationRead)
			admins.GET("/logs", adminHandler.Logs)
		}
	}
}
