package worker

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"portfolioPro/internal/mail"
	"portfolioPro/internal/tasks"
)

// EmailTaskHandler 发送通知邮件。
type EmailTaskHandler struct {
	deps Deps
}

// NewEmailTaskHandler 创建邮件任务处理器。
func NewEmailTaskHandler(deps Deps) *EmailTaskHandler {
	return &EmailTaskHandler{deps: deps}
}

// ProcessTask 实现 asynq.Handler。
func (h *EmailTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.deps.logger()

	var payload tasks.EmailPayload
	if err := decodePayload(t, &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}
	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("subject", payload.Subject),
	)

	if strings.TrimSpace(payload.To) == "" {
		log.Warn("email without recipient, skipping task")
		return nil
	}

	msg := mail.Message{
		To:      mail.To(payload.ToName, payload.To),
		Subject: payload.Subject,
		Text:    payload.Text,
		HTML:    payload.HTML,
	}
	if err := h.deps.Mail.Send(ctx, msg); err != nil {
		if isFinalAsynqAttempt(ctx) {
			log.Error("send email failed, giving up", slog.Any("error", err))
		} else {
			log.Warn("send email failed, will retry", slog.Any("error", err))
		}
		return err
	}
	log.Info("email sent")
	return nil
}
