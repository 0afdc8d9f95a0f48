package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/database"
	"portfolioPro/internal/metrics"
	"portfolioPro/internal/payment"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/validation"
)

const invoiceURLTTL = 15 * time.Minute

// PaymentHandler 处理下单、优惠码、支付回调与发票。
type PaymentHandler struct {
	db      *gorm.DB
	service *payment.Service
	objects storage.ObjectStore
	queue   TaskQueue
	logger  *slog.Logger
}

// NewPaymentHandler 构造支付处理器。
func NewPaymentHandler(db *gorm.DB, service *payment.Service, objects storage.ObjectStore, queue TaskQueue, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{db: db, service: service, objects: objects, queue: queue, logger: logger}
}

// Initiate 创建网关订单并返回前端结账所需参数。
func (h *PaymentHandler) Initiate(c *gin.Context) {
	logger := loggerFrom(c, h.logger)
	acct, ok := currentAccount(c, h.db, logger)
	if !ok {
		return
	}
	checkout, err := h.service.Initiate(c.Request.Context(), acct.User, acct.Profile)
	if err != nil {
		metrics.ObservePayment(metrics.PaymentFailed)
		logger.Error("create gateway order failed", slog.Any("error", err))
		Error(c, http.StatusBadGateway, "failed to create payment order")
		return
	}
	c.JSON(http.StatusOK, checkout)
}

type couponRequest struct {
	Code string `json:"coupon_code" binding:"notblank"`
}

// RedeemCoupon 使用优惠码免费解锁。
func (h *PaymentHandler) RedeemCoupon(c *gin.Context) {
	var req couponRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := loggerFrom(c, h.logger)
	acct, ok := currentAccount(c, h.db, logger)
	if !ok {
		return
	}
	p, err := h.service.RedeemCoupon(c.Request.Context(), acct.User, req.Code)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidCoupon) {
			Unprocessable(c, validation.FieldErrors{"coupon_code": "Invalid coupon code"})
			return
		}
		if errors.Is(err, payment.ErrCouponUsed) {
			Unprocessable(c, validation.FieldErrors{"coupon_code": "Coupon already redeemed"})
			return
		}
		logger.Error("redeem coupon failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	metrics.ObservePayment(metrics.PaymentCoupon)
	logger.Info("coupon redeemed", slog.Uint64("payment_id", uint64(p.ID)))
	c.JSON(http.StatusOK, gin.H{"payment": toInvoiceResponse(*p), "redirect": profilePath})
}

// Callback 校验支付签名并解锁；签名无效时返回 400。
func (h *PaymentHandler) Callback(c *gin.Context) {
	var cb payment.Callback
	if err := c.ShouldBind(&cb); err != nil {
		BadRequest(c, "payment verification failed")
		return
	}
	logger := loggerFrom(c, h.logger).With(slog.String("order_id", cb.OrderID))
	acct, ok := currentAccount(c, h.db, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	p, err := h.service.Complete(ctx, acct.User, acct.Profile, cb)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			metrics.ObservePayment(metrics.PaymentInvalid)
			logger.Warn("payment signature invalid", slog.String("payment_id", cb.PaymentID))
			BadRequest(c, "payment verification failed")
			return
		}
		metrics.ObservePayment(metrics.PaymentFailed)
		logger.Error("complete payment failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	metrics.ObservePayment(metrics.PaymentSucceeded)
	logger.Info("payment completed", slog.Uint64("payment_id", uint64(p.ID)))

	// 发票与邮件失败不影响付款结果；重复回调不再发信。
	if h.queue != nil && p.InvoiceEmailedAt == nil {
		if err := h.queue.Invoice(ctx, tasks.InvoicePayload{
			PaymentID:     p.ID,
			Email:         true,
			CorrelationID: middleware.GetCorrelationID(c),
		}); err != nil {
			logger.Warn("enqueue invoice failed", slog.Any("error", err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"payment": toInvoiceResponse(*p), "redirect": profilePath})
}

type invoiceResponse struct {
	ID            uint       `json:"id"`
	InvoiceNumber string     `json:"invoice_number"`
	OrderID       string     `json:"order_id"`
	PaymentID     string     `json:"payment_id"`
	Amount        float64    `json:"amount"`
	AmountPaise   int64      `json:"amount_paise"`
	Generated     bool       `json:"generated"`
	EmailedAt     *time.Time `json:"emailed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toInvoiceResponse(p database.Payment) invoiceResponse {
	return invoiceResponse{
		ID:            p.ID,
		InvoiceNumber: p.InvoiceNumber(),
		OrderID:       p.OrderID,
		PaymentID:     p.PaymentID,
		Amount:        p.AmountRupees(),
		AmountPaise:   p.Amount,
		Generated:     p.InvoiceKey != "",
		EmailedAt:     p.InvoiceEmailedAt,
		CreatedAt:     p.CreatedAt,
	}
}

// Invoices 列出当前用户的付款记录。
func (h *PaymentHandler) Invoices(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	payments, err := h.service.Invoices(c.Request.Context(), userID)
	if err != nil {
		loggerFrom(c, h.logger).Error("list invoices failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	out := make([]invoiceResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toInvoiceResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"invoices": out})
}

func (h *PaymentHandler) invoice(c *gin.Context) (*database.Payment, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return nil, false
	}
	p, err := h.service.Invoice(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "invoice not found")
			return nil, false
		}
		loggerFrom(c, h.logger).Error("load invoice failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return p, true
}

func (h *PaymentHandler) enqueueInvoice(c *gin.Context, p *database.Payment, email bool) bool {
	if h.queue == nil {
		Error(c, http.StatusServiceUnavailable, "task queue unavailable")
		return false
	}
	err := h.queue.Invoice(c.Request.Context(), tasks.InvoicePayload{
		PaymentID:     p.ID,
		Email:         email,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		loggerFrom(c, h.logger).Error("enqueue invoice failed", slog.Any("error", err))
		Internal(c, "failed to enqueue invoice")
		return false
	}
	return true
}

// DownloadInvoice 返回发票的预签名地址；尚未生成时投递生成任务并返回 202。
func (h *PaymentHandler) DownloadInvoice(c *gin.Context) {
	p, ok := h.invoice(c)
	if !ok {
		return
	}
	if p.InvoiceKey == "" || h.objects == nil {
		if h.enqueueInvoice(c, p, false) {
			c.JSON(http.StatusAccepted, gin.H{"status": "queued", "invoice_number": p.InvoiceNumber()})
		}
		return
	}
	url, err := h.objects.GeneratePresignedURLWithParams(c.Request.Context(), p.InvoiceKey, invoiceURLTTL, map[string]string{
		"response-content-disposition": fmt.Sprintf(`attachment; filename="%s.pdf"`, p.InvoiceNumber()),
	})
	if err != nil {
		loggerFrom(c, h.logger).Error("presign invoice failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(invoiceURLTTL.Seconds())})
}

// EmailInvoice 重新发送发票邮件。
func (h *PaymentHandler) EmailInvoice(c *gin.Context) {
	p, ok := h.invoice(c)
	if !ok {
		return
	}
	if h.enqueueInvoice(c, p, true) {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "invoice_number": p.InvoiceNumber()})
	}
}
