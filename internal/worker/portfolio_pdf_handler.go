package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/errcode"
	"portfolioPro/internal/portfolio"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
)

// maxPhotoBytes 限制内联到 PDF 中的头像大小。
const maxPhotoBytes = 5 << 20

var errUnsupportedPhoto = errors.New("unsupported photo type")

// PortfolioPDFTaskHandler 将已付款的作品集导出为 PDF。
type PortfolioPDFTaskHandler struct {
	deps  Deps
	store *portfolio.Store
}

// NewPortfolioPDFTaskHandler 创建作品集 PDF 任务处理器。
func NewPortfolioPDFTaskHandler(deps Deps) *PortfolioPDFTaskHandler {
	return &PortfolioPDFTaskHandler{deps: deps, store: portfolio.NewStore(deps.DB)}
}

// ProcessTask 实现 asynq.Handler。
func (h *PortfolioPDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.deps.logger()

	var payload tasks.PortfolioPDFPayload
	if err := decodePayload(t, &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}
	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("portfolio_id", uint64(payload.PortfolioID)),
	)
	log.Info("Starting portfolio PDF export...")

	var p database.Portfolio
	if err := h.deps.DB.WithContext(ctx).First(&p, payload.PortfolioID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("portfolio not found, skipping task")
			return nil
		}
		log.Error("query portfolio failed", slog.Any("error", err))
		return err
	}
	log = log.With(slog.Uint64("user_id", uint64(p.UserID)))

	notify := NotifyMessage{Type: NotifyPortfolioPDF, ResourceID: p.ID, CorrelationID: payload.CorrelationID}
	if !p.IsPaid {
		log.Warn("portfolio not paid, skipping export")
		notify.Status = StatusError
		notify.ErrorCode = errcode.NotPaid
		notify.ErrorMessage = errcode.Message(errcode.NotPaid)
		if err := notifyDone(ctx, h.deps, p.UserID, notify); err != nil {
			log.Warn("publish notification failed", slog.Any("error", err))
		}
		return nil
	}

	defer func() {
		notifyFailure(ctx, h.deps, log, p.UserID, notify, retErr)
	}()

	view, err := h.store.Load(ctx, p)
	if err != nil {
		log.Error("load portfolio failed", slog.Any("error", err))
		return err
	}
	if file, err := h.pdfTemplateFile(ctx, p); err != nil {
		log.Error("load pdf template failed", slog.Any("error", err))
		return err
	} else if file != "" {
		view.TemplateFile = file
	}

	if key := view.Profile.ProfilePhotoKey; key != "" {
		photo, err := h.photoDataURI(ctx, key)
		switch {
		case err == nil:
			view.PhotoURL = photo
		case storage.IsNoSuchKey(err), errors.Is(err, errUnsupportedPhoto):
			notify.ErrorCode = errcode.ResourceMissing
			notify.ErrorMessage = errcode.Message(errcode.ResourceMissing)
			notify.MissingKeys = []string{key}
			log.Warn("profile photo unusable, exporting without it", slog.String("key", key), slog.Any("error", err))
		default:
			log.Error("read profile photo failed", slog.Any("error", err))
			return err
		}
	}

	var buf bytes.Buffer
	if err := h.deps.Renderer.Portfolio(&buf, view); err != nil {
		log.Error("render portfolio failed", slog.Any("error", err))
		return err
	}
	pdfBytes, err := h.deps.PDF.FromHTML(ctx, buf.String())
	if err != nil {
		log.Error("generate pdf failed", slog.Any("error", err))
		return err
	}

	key := storage.PortfolioPDFKey(p.UserID, p.ID)
	if _, err := h.deps.Storage.UploadFile(ctx, key, bytes.NewReader(pdfBytes), int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf failed", slog.Any("error", err))
		return err
	}
	if err := h.deps.DB.WithContext(ctx).Model(&p).Update("pdf_key", key).Error; err != nil {
		log.Error("update portfolio failed", slog.Any("error", err))
		return err
	}

	notify.DownloadURL, err = h.deps.Storage.GeneratePresignedURL(ctx, key, downloadTTL)
	if err != nil {
		log.Warn("presign pdf failed", slog.Any("error", err))
	}
	if err := notifyDone(ctx, h.deps, p.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Portfolio PDF export completed.")
	return nil
}

func (h *PortfolioPDFTaskHandler) pdfTemplateFile(ctx context.Context, p database.Portfolio) (string, error) {
	if p.PDFTemplateID == nil {
		return "", nil
	}
	var tpl database.Template
	if err := h.deps.DB.WithContext(ctx).Limit(1).Find(&tpl, *p.PDFTemplateID).Error; err != nil {
		return "", err
	}
	return tpl.TemplateFile, nil
}

// photoDataURI 读取头像并编码为 data URI，避免浏览器渲染时再访问存储。
func (h *PortfolioPDFTaskHandler) photoDataURI(ctx context.Context, key string) (string, error) {
	data, err := h.deps.Storage.ReadObject(ctx, key, maxPhotoBytes)
	if err != nil {
		return "", err
	}
	contentType := http.DetectContentType(data)
	switch contentType {
	case "image/jpeg", "image/png":
	default:
		return "", fmt.Errorf("%w %q", errUnsupportedPhoto, contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
