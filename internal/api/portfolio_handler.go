package api

import (
	"bytes"
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
	"portfolioPro/internal/portfolio"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/validation"
)

const photoURLTTL = 15 * time.Minute

// PortfolioHandler 处理作品集的创建、向导、模板选择、预览与导出。
type PortfolioHandler struct {
	db       *gorm.DB
	store    *portfolio.Store
	objects  storage.ObjectStore
	queue    TaskQueue
	renderer *render.Renderer
	logger   *slog.Logger
}

// NewPortfolioHandler 构造作品集处理器。objects 与 queue 可以为 nil（对应功能不可用）。
func NewPortfolioHandler(db *gorm.DB, objects storage.ObjectStore, queue TaskQueue, renderer *render.Renderer, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		db:       db,
		store:    portfolio.NewStore(db),
		objects:  objects,
		queue:    queue,
		renderer: renderer,
		logger:   logger,
	}
}

type portfolioResponse struct {
	ID            uint      `json:"id"`
	Slug          string    `json:"slug"`
	Status        string    `json:"status"`
	IsPaid        bool      `json:"is_paid"`
	Views         int       `json:"views"`
	TemplateID    *uint     `json:"template_id"`
	PDFTemplateID *uint     `json:"pdf_template_id"`
	HasPDF        bool      `json:"has_pdf"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPortfolioResponse(p database.Portfolio) portfolioResponse {
	return portfolioResponse{
		ID:            p.ID,
		Slug:          p.Slug,
		Status:        p.Status,
		IsPaid:        p.IsPaid,
		Views:         p.Views,
		TemplateID:    p.TemplateID,
		PDFTemplateID: p.PDFTemplateID,
		HasPDF:        p.PDFKey != "",
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func stepPath(id uint, step portfolio.Step) string {
	return fmt.Sprintf("/portfolios/%d/steps/%s", id, step)
}

func previewPath(id uint) string { return fmt.Sprintf("/portfolios/%d/preview", id) }
func editPath(id uint) string    { return fmt.Sprintf("/portfolios/%d/edit", id) }

// destinationPath 把向导去向转换为前端路由。
func destinationPath(id uint, d portfolio.Destination) string {
	switch {
	case d.Preview:
		return previewPath(id)
	case d.Edit:
		return editPath(id)
	}
	return stepPath(id, d.Step)
}

// owned 读取当前用户的作品集，失败时已写出响应。
func (h *PortfolioHandler) owned(c *gin.Context) (*database.Portfolio, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return nil, false
	}
	p, err := h.store.Owned(c.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "portfolio not found")
			return nil, false
		}
		loggerFrom(c, h.logger).Error("load portfolio failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	return p, true
}

// List 返回当前用户的作品集及进度。
func (h *PortfolioHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger)

	var portfolios []database.Portfolio
	if err := h.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&portfolios).Error; err != nil {
		logger.Error("list portfolios failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	type item struct {
		portfolioResponse
		Progress portfolio.Progress `json:"progress"`
	}
	out := make([]item, 0, len(portfolios))
	for _, p := range portfolios {
		progress, err := h.store.Progress(ctx, p)
		if err != nil {
			logger.Error("portfolio progress failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		out = append(out, item{portfolioResponse: toPortfolioResponse(p), Progress: progress})
	}
	c.JSON(http.StatusOK, gin.H{"portfolios": out})
}

// Create 创建作品集或复用已有作品集。未付款的普通用户被引导到付款页。
func (h *PortfolioHandler) Create(c *gin.Context) {
	logger := loggerFrom(c, h.logger)
	acct, ok := currentAccount(c, h.db, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	hasPaid, err := database.HasPaid(ctx, h.db, acct.Profile)
	if err != nil {
		logger.Error("check payment failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if acct.Profile.UserType == database.UserTypeNormal && !hasPaid {
		SeeOther(c, paymentPath, "please purchase the portfolio package to continue")
		return
	}

	p, created, err := h.store.Create(ctx, acct.User, acct.Profile, hasPaid)
	if err != nil {
		if errors.Is(err, portfolio.ErrNoPortfoliosRemaining) {
			ForbiddenRedirect(c, paymentPath, "you need to purchase more portfolio slots")
			return
		}
		logger.Error("create portfolio failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		metrics.ObservePortfolioCreated()
		logger.Info("portfolio created", slog.Uint64("portfolio_id", uint64(p.ID)))
	}
	c.JSON(status, gin.H{
		"portfolio": toPortfolioResponse(*p),
		"redirect":  stepPath(p.ID, portfolio.StepPersonal1),
	})
}

// Delete 删除作品集及其全部条目。
func (h *PortfolioHandler) Delete(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), *p); err != nil {
		loggerFrom(c, h.logger).Error("delete portfolio failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect": profilePath})
}

// Progress 返回作品集完成度。
func (h *PortfolioHandler) Progress(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	progress, err := h.store.Progress(c.Request.Context(), *p)
	if err != nil {
		loggerFrom(c, h.logger).Error("portfolio progress failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Edit 是已完成作品集的编辑总览：各步骤的完成情况与入口。
func (h *PortfolioHandler) Edit(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	progress, err := h.store.Progress(c.Request.Context(), *p)
	if err != nil {
		loggerFrom(c, h.logger).Error("portfolio progress failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	type stepLink struct {
		Step     portfolio.Step `json:"step"`
		Complete bool           `json:"complete"`
		Path     string         `json:"path"`
	}
	steps := make([]stepLink, 0, portfolio.SectionCount)
	for _, s := range portfolio.Order {
		if s == portfolio.StepDone {
			continue
		}
		steps = append(steps, stepLink{Step: s, Complete: progress.Steps[s], Path: stepPath(p.ID, s)})
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio": toPortfolioResponse(*p),
		"progress":  progress,
		"steps":     steps,
	})
}

// step 解析路由中的步骤名，并在需要时检查基本信息是否已完成。
func (h *PortfolioHandler) step(c *gin.Context, p *database.Portfolio) (portfolio.Step, bool) {
	step, err := portfolio.ParseStep(c.Param("step"))
	if err != nil {
		NotFound(c, err.Error())
		return "", false
	}
	if !portfolio.RequiresPersonalInfo(step) {
		return step, true
	}
	profile, err := h.store.Profile(c.Request.Context(), *p)
	if err != nil {
		loggerFrom(c, h.logger).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return "", false
	}
	if !portfolio.PersonalInfoComplete(*profile) {
		SeeOther(c, stepPath(p.ID, portfolio.StepPersonal1), "please complete your personal information first")
		return "", false
	}
	return step, true
}

// GetStep 返回某个步骤已保存的数据，用于回填表单。
func (h *PortfolioHandler) GetStep(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	step, ok := h.step(c, p)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger)

	data, err := h.store.StepData(ctx, *p, step)
	if err != nil {
		logger.Error("load step data failed", slog.String("step", string(step)), slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	progress, err := h.store.Progress(ctx, *p)
	if err != nil {
		logger.Error("portfolio progress failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	resp := gin.H{
		"step":      step,
		"next_step": portfolio.Next(step),
		"can_skip":  portfolio.CanSkip(step),
		"editing":   p.Status == database.PortfolioCompleted,
		"progress":  progress,
	}
	if portfolio.Collects(step) {
		resp["entries"] = data
	} else {
		resp["data"] = data
	}
	c.JSON(http.StatusOK, resp)
}

type stepRequest struct {
	Action string `json:"action"`
	portfolio.StepInput
}

// SubmitStep 保存步骤数据并返回下一步去向。personal2 的提交会将作品集标记为已完成。
func (h *PortfolioHandler) SubmitStep(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	step, ok := h.step(c, p)
	if !ok {
		return
	}
	var req stepRequest
	if !bindJSON(c, &req) {
		return
	}
	action, err := portfolio.ParseAction(req.Action)
	if err != nil {
		Unprocessable(c, validation.FieldErrors{"action": err.Error()})
		return
	}

	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger).With(
		slog.Uint64("portfolio_id", uint64(p.ID)),
		slog.String("step", string(step)),
	)

	if action == portfolio.ActionSkip {
		if !portfolio.CanSkip(step) {
			Unprocessable(c, validation.FieldErrors{"action": "this step cannot be skipped"})
			return
		}
	} else if err := h.store.SaveStep(ctx, *p, step, req.StepInput); err != nil {
		if fieldErrors(c, err) {
			return
		}
		if errors.Is(err, portfolio.ErrEntryNotFound) {
			NotFound(c, "entry not found")
			return
		}
		logger.Error("save step failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	dest := portfolio.Resolve(step, action, p.Status)
	if dest.Preview && p.Status != database.PortfolioCompleted {
		if err := h.store.Complete(ctx, p); err != nil {
			logger.Error("complete portfolio failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		logger.Info("portfolio completed")
	}

	progress, err := h.store.Progress(ctx, *p)
	if err != nil {
		logger.Error("portfolio progress failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    p.Status,
		"next_step": dest.Step,
		"redirect":  destinationPath(p.ID, dest),
		"progress":  progress,
	})
}

// DeleteEntry 删除集合类步骤中的单个条目。
func (h *PortfolioHandler) DeleteEntry(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	step, err := portfolio.ParseStep(c.Param("step"))
	if err != nil {
		NotFound(c, err.Error())
		return
	}
	entryID, ok := uintParam(c, "entry")
	if !ok {
		return
	}
	if err := h.store.DeleteEntry(c.Request.Context(), *p, step, entryID); err != nil {
		switch {
		case errors.Is(err, portfolio.ErrStepNotEditable):
			BadRequest(c, "invalid entry type")
		case errors.Is(err, portfolio.ErrEntryNotFound):
			NotFound(c, "entry not found")
		default:
			loggerFrom(c, h.logger).Error("delete entry failed", slog.Any("error", err))
			Internal(c, "internal error")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect": stepPath(p.ID, step)})
}

// completedView 读取已完成作品集的全部内容；未完成时引导回个人主页。
func (h *PortfolioHandler) completedView(c *gin.Context, p *database.Portfolio) (*portfolio.View, bool) {
	if p.Status != database.PortfolioCompleted {
		SeeOther(c, profilePath, "please complete your portfolio forms first")
		return nil, false
	}
	v, err := h.store.Load(c.Request.Context(), *p)
	if err != nil {
		loggerFrom(c, h.logger).Error("load portfolio view failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	h.attachPhoto(c, v)
	return v, true
}

func (h *PortfolioHandler) attachPhoto(c *gin.Context, v *portfolio.View) {
	if h.objects == nil || v.Profile.ProfilePhotoKey == "" {
		return
	}
	url, err := h.objects.GeneratePresignedURL(c.Request.Context(), v.Profile.ProfilePhotoKey, photoURLTTL)
	if err != nil {
		loggerFrom(c, h.logger).Warn("presign profile photo failed", slog.Any("error", err))
		return
	}
	v.PhotoURL = url
}

// FormData 返回已完成作品集的表单数据预览以及付款状态。
func (h *PortfolioHandler) FormData(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	v, ok := h.completedView(c, p)
	if !ok {
		return
	}
	hasPaid, err := database.HasPaid(c.Request.Context(), h.db, v.Profile)
	if err != nil {
		loggerFrom(c, h.logger).Error("check payment failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio":      toPortfolioResponse(*p),
		"has_paid":       hasPaid,
		"username":       v.Username,
		"person":         v.Person,
		"social":         v.Social,
		"extras":         v.Extras,
		"education":      v.Education,
		"experience":     v.Experience,
		"projects":       v.Projects,
		"skills":         v.Skills,
		"certifications": v.Certifications,
		"languages":      v.Languages,
		"hobbies":        v.Hobbies,
		"summary":        v.Summary,
		"photo_url":      v.PhotoURL,
	})
}

// Preview 以所选模板渲染作品集，供所有者预览（不要求付款）。
func (h *PortfolioHandler) Preview(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	v, ok := h.completedView(c, p)
	if !ok {
		return
	}
	h.writeHTML(c, v)
}

// Public 渲染公开作品集页面，未付款的作品集返回 404。
func (h *PortfolioHandler) Public(c *gin.Context) {
	v, err := h.store.Public(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, portfolio.ErrNotPublic) {
			NotFound(c, "portfolio not found")
			return
		}
		loggerFrom(c, h.logger).Error("load public portfolio failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.attachPhoto(c, v)
	h.writeHTML(c, v)
}

func (h *PortfolioHandler) writeHTML(c *gin.Context, v *portfolio.View) {
	var buf bytes.Buffer
	if err := h.renderer.Portfolio(&buf, v); err != nil {
		loggerFrom(c, h.logger).Error("render portfolio failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

type templateResponse struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	PreviewImageURL string `json:"preview_image_url"`
	TemplateFile    string `json:"template_file"`
}

func toTemplateResponses(list []database.Template) []templateResponse {
	out := make([]templateResponse, 0, len(list))
	for _, t := range list {
		out = append(out, templateResponse{
			ID:              t.ID,
			Name:            t.Name,
			PreviewImageURL: t.PreviewImageURL,
			TemplateFile:    t.TemplateFile,
		})
	}
	return out
}

// Templates 列出网页与 PDF 模板。未付款的普通用户或切换次数已用尽时引导到付款页。
func (h *PortfolioHandler) Templates(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	logger := loggerFrom(c, h.logger)

	profile, err := h.store.Profile(ctx, *p)
	if err != nil {
		logger.Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	hasPaid, err := database.HasPaid(ctx, h.db, *profile)
	if err != nil {
		logger.Error("check payment failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if profile.UserType == database.UserTypeNormal && !hasPaid {
		SeeOther(c, paymentPath, "please purchase the portfolio package to select templates")
		return
	}
	if !p.IsPaid && portfolio.RemainingTemplateChanges(*profile) == 0 {
		SeeOther(c, paymentPath, "you've used all allowed template changes")
		return
	}

	web, err := h.store.Templates(ctx, false)
	if err != nil {
		logger.Error("list templates failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	pdfs, err := h.store.Templates(ctx, true)
	if err != nil {
		logger.Error("list pdf templates failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"templates":            toTemplateResponses(web),
		"pdf_templates":        toTemplateResponses(pdfs),
		"current_template_id":  p.TemplateID,
		"current_pdf_template": p.PDFTemplateID,
		"template_changes":     profile.TemplateChangeCount,
		"max_template_changes": profile.MaxTemplateChanges,
		"remaining_changes":    portfolio.RemainingTemplateChanges(*profile),
	})
}

type selectTemplateRequest struct {
	TemplateID uint `json:"template_id" binding:"required"`
}

// SelectTemplate 切换网页模板。次数用尽时 303 到付款页。
func (h *PortfolioHandler) SelectTemplate(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	var req selectTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := loggerFrom(c, h.logger).With(slog.Uint64("portfolio_id", uint64(p.ID)))

	decision, err := h.store.SelectTemplate(c.Request.Context(), *p, req.TemplateID)
	if err != nil {
		switch {
		case errors.Is(err, portfolio.ErrTemplateLimit):
			logger.Info("template change limit reached")
			SeeOther(c, paymentPath, "you've reached your template change limit, please purchase to unlock more changes")
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "template not found")
		default:
			logger.Error("select template failed", slog.Any("error", err))
			Internal(c, "internal error")
		}
		return
	}
	changed := decision == portfolio.TemplateChanged
	if changed {
		metrics.ObserveTemplateChange()
	}
	c.JSON(http.StatusOK, gin.H{
		"template_id": req.TemplateID,
		"changed":     changed,
		"redirect":    previewPath(p.ID),
	})
}

// SelectPDFTemplate 设置导出 PDF 使用的模板。
func (h *PortfolioHandler) SelectPDFTemplate(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	var req selectTemplateRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.store.SelectPDFTemplate(c.Request.Context(), p, req.TemplateID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "template not found")
			return
		}
		loggerFrom(c, h.logger).Error("select pdf template failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pdf_template_id": p.PDFTemplateID})
}

// RequestPDF 为已付款作品集投递 PDF 导出任务。
func (h *PortfolioHandler) RequestPDF(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	if !p.IsPaid {
		SeeOther(c, paymentPath, "please purchase the portfolio package to download a PDF")
		return
	}
	if p.Status != database.PortfolioCompleted {
		SeeOther(c, profilePath, "please complete your portfolio forms first")
		return
	}
	if h.queue == nil {
		Error(c, http.StatusServiceUnavailable, "task queue unavailable")
		return
	}
	err := h.queue.PortfolioPDF(c.Request.Context(), tasks.PortfolioPDFPayload{
		PortfolioID:   p.ID,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		loggerFrom(c, h.logger).Error("enqueue portfolio pdf failed", slog.Any("error", err))
		Internal(c, "failed to enqueue pdf generation")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "portfolio_id": p.ID})
}

// GetPDF 返回已生成 PDF 的预签名下载地址。
func (h *PortfolioHandler) GetPDF(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	if p.PDFKey == "" {
		NotFound(c, "pdf not generated yet")
		return
	}
	if h.objects == nil {
		Error(c, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	url, err := h.objects.GeneratePresignedURLWithParams(c.Request.Context(), p.PDFKey, photoURLTTL, map[string]string{
		"response-content-disposition": fmt.Sprintf(`attachment; filename="%s.pdf"`, p.Slug),
	})
	if err != nil {
		loggerFrom(c, h.logger).Error("presign portfolio pdf failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(photoURLTTL.Seconds())})
}
