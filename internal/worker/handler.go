package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"portfolioPro/internal/errcode"
	"portfolioPro/internal/mail"
	"portfolioPro/internal/pdf"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
)

// downloadTTL 是任务完成后推送给用户的下载链接有效期。
const downloadTTL = 24 * time.Hour

// Deps 是各任务处理器共享的依赖。
type Deps struct {
	DB       *gorm.DB
	Storage  storage.ObjectStore
	PDF      pdf.Generator
	Renderer *render.Renderer
	Mail     mail.Sender
	Notifier Notifier
	Logger   *slog.Logger
	AppName  string
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// NewServeMux 注册全部任务类型。
func NewServeMux(deps Deps) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeEmailSend, NewEmailTaskHandler(deps))
	mux.Handle(tasks.TypeInvoiceGenerate, NewInvoiceTaskHandler(deps))
	mux.Handle(tasks.TypeRosterGenerate, NewRosterTaskHandler(deps))
	mux.Handle(tasks.TypePortfolioPDF, NewPortfolioPDFTaskHandler(deps))
	return mux
}

func decodePayload(t *asynq.Task, dst any) error {
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		// 载荷损坏时重试没有意义。
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

// notifyFailure 在最后一次尝试失败时通知用户。
func notifyFailure(ctx context.Context, deps Deps, log *slog.Logger, userID uint, msg NotifyMessage, taskErr error) {
	if taskErr == nil || userID == 0 || deps.Notifier == nil {
		return
	}
	if !isFinalAsynqAttempt(ctx) && !errors.Is(taskErr, asynq.SkipRetry) {
		return
	}
	msg.Status = StatusError
	msg.ErrorCode = errcode.SystemError
	msg.ErrorMessage = strings.TrimSpace(taskErr.Error())
	if err := deps.Notifier.Notify(ctx, userID, msg); err != nil {
		log.Error("publish error notification failed", slog.Any("error", err))
	}
}

func notifyDone(ctx context.Context, deps Deps, userID uint, msg NotifyMessage) error {
	if deps.Notifier == nil {
		return nil
	}
	if msg.Status == "" {
		msg.Status = StatusCompleted
	}
	return deps.Notifier.Notify(ctx, userID, msg)
}
