package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/mail"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
)

// maxInvoiceBytes 限制从存储回读的发票大小。
const maxInvoiceBytes = 10 << 20

// InvoiceTaskHandler 生成发票 PDF，按需通过邮件发送。
type InvoiceTaskHandler struct {
	deps Deps
}

// NewInvoiceTaskHandler 创建发票任务处理器。
func NewInvoiceTaskHandler(deps Deps) *InvoiceTaskHandler {
	return &InvoiceTaskHandler{deps: deps}
}

// ProcessTask 实现 asynq.Handler。
func (h *InvoiceTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.deps.logger()

	var payload tasks.InvoicePayload
	if err := decodePayload(t, &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}
	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("payment_id", uint64(payload.PaymentID)),
	)

	db := h.deps.DB.WithContext(ctx)
	var payment database.Payment
	if err := db.Preload("User").First(&payment, payload.PaymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("payment not found, skipping task")
			return nil
		}
		log.Error("query payment failed", slog.Any("error", err))
		return err
	}
	log = log.With(slog.Uint64("user_id", uint64(payment.UserID)))

	notify := NotifyMessage{Type: NotifyInvoice, ResourceID: payment.ID, CorrelationID: payload.CorrelationID}
	defer func() {
		notifyFailure(ctx, h.deps, log, payment.UserID, notify, retErr)
	}()

	pdfBytes, err := h.ensureInvoice(ctx, &payment)
	if err != nil {
		log.Error("generate invoice failed", slog.Any("error", err))
		return err
	}

	if payload.Email {
		if err := h.emailInvoice(ctx, payment, pdfBytes); err != nil {
			log.Error("email invoice failed", slog.Any("error", err))
			return err
		}
		log.Info("invoice emailed")
	}

	notify.DownloadURL, err = h.deps.Storage.GeneratePresignedURL(ctx, payment.InvoiceKey, downloadTTL)
	if err != nil {
		log.Warn("presign invoice failed", slog.Any("error", err))
	}
	if err := notifyDone(ctx, h.deps, payment.UserID, notify); err != nil {
		log.Warn("publish invoice notification failed", slog.Any("error", err))
	}

	log.Info("invoice task completed")
	return nil
}

// ensureInvoice 返回发票 PDF；已生成的发票直接从存储读取。
func (h *InvoiceTaskHandler) ensureInvoice(ctx context.Context, payment *database.Payment) ([]byte, error) {
	if payment.InvoiceKey != "" {
		data, err := h.deps.Storage.ReadObject(ctx, payment.InvoiceKey, maxInvoiceBytes)
		if err == nil {
			return data, nil
		}
		if !storage.IsNoSuchKey(err) {
			return nil, err
		}
		h.deps.logger().Warn("stored invoice missing, regenerating", slog.String("key", payment.InvoiceKey))
	}

	var buf bytes.Buffer
	err := h.deps.Renderer.Invoice(&buf, render.InvoiceData{
		Number:       payment.InvoiceNumber(),
		Date:         payment.CreatedAt,
		Username:     payment.User.Username,
		Email:        payment.User.Email,
		AmountRupees: payment.AmountRupees(),
		OrderID:      payment.OrderID,
		PaymentID:    payment.PaymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("render invoice: %w", err)
	}

	data, err := h.deps.PDF.FromHTML(ctx, buf.String())
	if err != nil {
		return nil, err
	}

	key := storage.InvoiceKey(payment.UserID, payment.ID)
	if _, err := h.deps.Storage.UploadFile(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return nil, fmt.Errorf("upload invoice: %w", err)
	}
	if err := h.deps.DB.WithContext(ctx).Model(payment).Update("invoice_key", key).Error; err != nil {
		return nil, fmt.Errorf("update invoice key: %w", err)
	}
	payment.InvoiceKey = key
	return data, nil
}

func (h *InvoiceTaskHandler) emailInvoice(ctx context.Context, payment database.Payment, data []byte) error {
	if payment.User.Email == "" {
		return fmt.Errorf("user %d has no email: %w", payment.UserID, asynq.SkipRetry)
	}
	number := payment.InvoiceNumber()
	msg := mail.Message{
		To:      mail.To(payment.User.Username, payment.User.Email),
		Subject: "Your invoice " + number,
		Text: fmt.Sprintf("Hi %s,\n\nThank you for your payment of Rs. %.2f. Your invoice %s is attached.\n",
			payment.User.Username, payment.AmountRupees(), number),
		Attachments: []mail.Attachment{{
			Filename:    number + ".pdf",
			ContentType: "application/pdf",
			Content:     data,
		}},
	}
	if err := h.deps.Mail.Send(ctx, msg); err != nil {
		return err
	}
	now := time.Now()
	return h.deps.DB.WithContext(ctx).Model(&payment).Update("invoice_emailed_at", &now).Error
}
