package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/validation"
)

const assetURLTTL = 15 * time.Minute

// Scanner 扫描上传内容，发现恶意文件时返回 errMalicious。
type Scanner func(r io.Reader) error

var errMalicious = errors.New("malicious file detected")

// ClamdScanner 使用 clamd 扫描文件流。
func ClamdScanner(addr string) Scanner {
	return func(r io.Reader) error {
		abort := make(chan bool)
		defer close(abort)
		results, err := clamd.NewClamd(addr).ScanStream(r, abort)
		if err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		for result := range results {
			if result.Status != clamd.RES_OK {
				return errMalicious
			}
		}
		return nil
	}
}

// uploadKind 描述一类上传：表单字段、大小上限、允许的类型与对象键。
type uploadKind struct {
	field    string
	prefix   string
	maxBytes int64
	allowed  map[string]string // content type → 扩展名
	column   string
	key      func(userID uint, ext string) string
}

// AssetHandler 负责头像与简历的上传与访问。
type AssetHandler struct {
	db      *gorm.DB
	objects storage.ObjectStore
	scan    Scanner
	logger  *slog.Logger
	photo   uploadKind
	resume  uploadKind
}

// NewAssetHandler 返回 AssetHandler；scan 为 nil 时跳过病毒扫描。
func NewAssetHandler(db *gorm.DB, objects storage.ObjectStore, scan Scanner, limits config.LimitsConfig, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		db:      db,
		objects: objects,
		scan:    scan,
		logger:  logger,
		photo: uploadKind{
			field:    "profile_photo",
			prefix:   storage.ProfilePhotoPrefix,
			maxBytes: limits.MaxPhotoBytes,
			allowed:  map[string]string{"image/jpeg": ".jpg", "image/png": ".png"},
			column:   "profile_photo_key",
			key:      storage.ProfilePhotoKey,
		},
		resume: uploadKind{
			field:    "resume",
			prefix:   storage.ResumePrefix,
			maxBytes: limits.MaxResumeBytes,
			allowed:  map[string]string{"application/pdf": ".pdf"},
			column:   "resume_key",
			key:      func(userID uint, _ string) string { return storage.ResumeKey(userID) },
		},
	}
}

// UploadPhoto 上传头像（JPEG/PNG）。
func (h *AssetHandler) UploadPhoto(c *gin.Context) { h.upload(c, h.photo) }

// UploadResume 上传简历（PDF）。
func (h *AssetHandler) UploadResume(c *gin.Context) { h.upload(c, h.resume) }

func (h *AssetHandler) upload(c *gin.Context, kind uploadKind) {
	acct, ok := currentAccount(c, h.db, loggerFrom(c, h.logger))
	if !ok {
		return
	}
	logger := loggerFrom(c, h.logger).With(slog.Uint64("user_id", uint64(acct.User.ID)), slog.String("field", kind.field))
	ctx := c.Request.Context()

	file, err := c.FormFile(kind.field)
	if err != nil {
		Unprocessable(c, validation.FieldErrors{kind.field: "No file was submitted."})
		return
	}
	if kind.maxBytes > 0 && file.Size > kind.maxBytes {
		Unprocessable(c, validation.FieldErrors{kind.field: fmt.Sprintf("File size must be under %d MB.", kind.maxBytes>>20)})
		return
	}

	f, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	var r io.Reader = f
	if kind.maxBytes > 0 {
		r = io.LimitReader(f, kind.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	f.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}
	if kind.maxBytes > 0 && int64(len(data)) > kind.maxBytes {
		Unprocessable(c, validation.FieldErrors{kind.field: fmt.Sprintf("File size must be under %d MB.", kind.maxBytes>>20)})
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := kind.allowed[contentType]
	if !ok {
		Unprocessable(c, validation.FieldErrors{kind.field: "Unsupported file type."})
		return
	}

	if h.scan != nil {
		if err := h.scan(bytes.NewReader(data)); err != nil {
			if errors.Is(err, errMalicious) {
				logger.Warn("malicious upload rejected")
				BadRequest(c, "malicious file detected")
				return
			}
			logger.Error("scan file failed", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}

	objectKey := kind.key(acct.User.ID, ext)
	if _, err := h.objects.UploadFile(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		logger.Error("upload file failed", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	var previous string
	switch kind.column {
	case "profile_photo_key":
		previous = acct.Profile.ProfilePhotoKey
	case "resume_key":
		previous = acct.Profile.ResumeKey
	}
	if err := h.db.WithContext(ctx).Model(&database.Profile{}).
		Where("id = ?", acct.Profile.ID).
		Update(kind.column, objectKey).Error; err != nil {
		logger.Error("save object key failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if previous != "" && previous != objectKey && storage.OwnedBy(previous, kind.prefix, acct.User.ID) {
		if err := h.objects.DeleteObject(ctx, previous); err != nil {
			logger.Warn("delete previous object failed", slog.String("object_key", previous), slog.Any("error", err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"object_key": objectKey, "content_type": contentType, "size": len(data)})
}

// PhotoURL 返回头像的预签名地址。
func (h *AssetHandler) PhotoURL(c *gin.Context) { h.url(c, h.photo) }

// ResumeURL 返回简历的预签名地址。
func (h *AssetHandler) ResumeURL(c *gin.Context) { h.url(c, h.resume) }

func (h *AssetHandler) url(c *gin.Context, kind uploadKind) {
	acct, ok := currentAccount(c, h.db, loggerFrom(c, h.logger))
	if !ok {
		return
	}
	key := acct.Profile.ProfilePhotoKey
	if kind.column == "resume_key" {
		key = acct.Profile.ResumeKey
	}
	if key == "" {
		NotFound(c, "file not uploaded")
		return
	}
	if !storage.OwnedBy(key, kind.prefix, acct.User.ID) {
		Forbidden(c, "access denied")
		return
	}
	params := map[string]string{}
	if kind.column == "resume_key" {
		params["response-content-disposition"] = fmt.Sprintf(`attachment; filename="%s"`, path.Base(key))
	}
	signedURL, err := h.objects.GeneratePresignedURLWithParams(c.Request.Context(), key, assetURLTTL, params)
	if err != nil {
		loggerFrom(c, h.logger).Error("generate presigned url failed", slog.Any("error", err))
		Internal(c, "failed to generate url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL, "expires_in": int(assetURLTTL.Seconds())})
}
