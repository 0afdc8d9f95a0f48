package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"portfolioPro/internal/admin"
	"portfolioPro/internal/database"
	"portfolioPro/internal/export"
)

const adminListLimit = 100

// AdminHandler 暴露管理后台接口，仅管理员可访问。
type AdminHandler struct {
	db      *gorm.DB
	service *admin.Service
	logger  *slog.Logger
}

// NewAdminHandler 构造管理后台处理器。
func NewAdminHandler(db *gorm.DB, service *admin.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{db: db, service: service, logger: logger}
}

func (h *AdminHandler) staff(c *gin.Context) (database.User, bool) {
	acct, ok := currentAccount(c, h.db, loggerFrom(c, h.logger))
	if !ok {
		return database.User{}, false
	}
	if !acct.User.IsStaff && !acct.User.IsSuperuser {
		Forbidden(c, "staff access only")
		return database.User{}, false
	}
	return acct.User, true
}

func limitQuery(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

// adminError 把 admin 包的错误映射为 HTTP 响应。
func (h *AdminHandler) adminError(c *gin.Context, err error, msg string) {
	switch {
	case fieldErrors(c, err):
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "not found")
	case errors.Is(err, admin.ErrConflict):
		Conflict(c, err.Error())
	case errors.Is(err, admin.ErrNotPending):
		Conflict(c, err.Error())
	case errors.Is(err, admin.ErrProtectedUser):
		Forbidden(c, err.Error())
	default:
		loggerFrom(c, h.logger).Error(msg, slog.Any("error", err))
		Internal(c, "internal error")
	}
}

// Stats 返回后台首页统计。
func (h *AdminHandler) Stats(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.adminError(c, err, "admin stats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

type approvalItem struct {
	invitationResponse
	AgentProfileID uint   `json:"agent_profile_id"`
	AgentName      string `json:"agent_name"`
}

func toApprovalItems(list []database.StudentInvitation) []approvalItem {
	out := make([]approvalItem, 0, len(list))
	for _, inv := range list {
		out = append(out, approvalItem{
			invitationResponse: toInvitationResponse(inv),
			AgentProfileID:     inv.AgentProfileID,
			AgentName:          inv.AgentProfile.FullName(),
		})
	}
	return out
}

// Approvals 返回待审批邀请与最近审批通过的邀请。
func (h *AdminHandler) Approvals(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	a, err := h.service.Approvals(c.Request.Context())
	if err != nil {
		h.adminError(c, err, "list approvals failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":           toApprovalItems(a.Pending),
		"recently_approved": toApprovalItems(a.Approved),
	})
}

// Approve 审批邀请并创建学生账号。
func (h *AdminHandler) Approve(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	res, err := h.service.Approve(c.Request.Context(), staff, id)
	if err != nil {
		h.adminError(c, err, "approve invitation failed")
		return
	}
	loggerFrom(c, h.logger).Info("student approved",
		slog.Uint64("invitation_id", uint64(id)),
		slog.Uint64("student_id", uint64(res.Student.ID)),
	)
	c.JSON(http.StatusOK, gin.H{
		"invitation":    toInvitationResponse(res.Invitation),
		"student_id":    res.Student.ID,
		"username":      res.Student.Username,
		"temp_password": res.TempPassword,
	})
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"max=1000"`
}

// Reject 拒绝邀请。
func (h *AdminHandler) Reject(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}
	inv, err := h.service.Reject(c.Request.Context(), staff, id, req.Reason)
	if err != nil {
		h.adminError(c, err, "reject invitation failed")
		return
	}
	c.JSON(http.StatusOK, toInvitationResponse(*inv))
}

// Users 列出用户，支持 q 搜索。
func (h *AdminHandler) Users(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	users, err := h.service.Users(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.adminError(c, err, "list users failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Agents 列出代理及其推荐人数。
func (h *AdminHandler) Agents(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	agents, err := h.service.Agents(c.Request.Context())
	if err != nil {
		h.adminError(c, err, "list agents failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// Block 封禁用户。
func (h *AdminHandler) Block(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.service.Block(c.Request.Context(), staff, id, req.Reason); err != nil {
		h.adminError(c, err, "block user failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_blocked": true})
}

// Unblock 解除封禁。
func (h *AdminHandler) Unblock(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.Unblock(c.Request.Context(), staff, id); err != nil {
		h.adminError(c, err, "unblock user failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_blocked": false})
}

// PreviewDelete 返回删除用户会影响的数据。
func (h *AdminHandler) PreviewDelete(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	preview, err := h.service.PreviewDelete(c.Request.Context(), staff, id)
	if err != nil {
		h.adminError(c, err, "preview delete failed")
		return
	}
	c.JSON(http.StatusOK, preview)
}

// DeleteUser 永久删除用户。
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteUser(c.Request.Context(), staff, id); err != nil {
		h.adminError(c, err, "delete user failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// Payments 列出付款记录，支持 q 与 date 筛选。
func (h *AdminHandler) Payments(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	var f admin.PaymentFilter
	if err := c.ShouldBindQuery(&f); err != nil {
		BadRequest(c, "invalid filter")
		return
	}
	if f.Date != "" {
		if _, err := time.Parse("2006-01-02", f.Date); err != nil {
			BadRequest(c, "date must be YYYY-MM-DD")
			return
		}
	}
	rows, err := h.service.Payments(c.Request.Context(), f)
	if err != nil {
		h.adminError(c, err, "list payments failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": rows})
}

// Reports 返回推荐排行与最近七天收入。
func (h *AdminHandler) Reports(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	r, err := h.service.Reports(c.Request.Context(), time.Now())
	if err != nil {
		h.adminError(c, err, "admin reports failed")
		return
	}
	c.JSON(http.StatusOK, r)
}

// ExportUsers 导出用户 CSV。
func (h *AdminHandler) ExportUsers(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	rows, err := h.service.UserRows(c.Request.Context())
	if err != nil {
		h.adminError(c, err, "load user rows failed")
		return
	}
	writeCSV(c, loggerFrom(c, h.logger), "users.csv", func(w io.Writer) error { return export.Users(w, rows) })
}

// ExportTopAgents 导出代理排行 CSV。
func (h *AdminHandler) ExportTopAgents(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	rows, err := h.service.TopAgentRows(c.Request.Context())
	if err != nil {
		h.adminError(c, err, "load agent rows failed")
		return
	}
	writeCSV(c, loggerFrom(c, h.logger), "top_agents.csv", func(w io.Writer) error { return export.TopAgents(w, rows) })
}

// Broadcast 向用户推送通知。
func (h *AdminHandler) Broadcast(c *gin.Context) {
	staff, ok := h.staff(c)
	if !ok {
		return
	}
	var in admin.BroadcastInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.service.Broadcast(c.Request.Context(), staff, in)
	if err != nil {
		h.adminError(c, err, "broadcast failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

type notificationResponse struct {
	ID           uint      `json:"id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	InvitationID *uint     `json:"invitation_id,omitempty"`
	IsRead       bool      `json:"is_read"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notifications 列出管理员通知。
func (h *AdminHandler) Notifications(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	list, err := h.service.Notifications(c.Request.Context(), limitQuery(c, adminListLimit))
	if err != nil {
		h.adminError(c, err, "list notifications failed")
		return
	}
	out := make([]notificationResponse, 0, len(list))
	for _, n := range list {
		out = append(out, notificationResponse{
			ID:           n.ID,
			Type:         n.Type,
			Title:        n.Title,
			Message:      n.Message,
			InvitationID: n.InvitationID,
			IsRead:       n.IsRead,
			CreatedAt:    n.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// MarkNotificationRead 标记通知为已读。
func (h *AdminHandler) MarkNotificationRead(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.service.MarkNotificationRead(c.Request.Context(), id); err != nil {
		h.adminError(c, err, "mark notification failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_read": true})
}

type adminLogResponse struct {
	ID           uint            `json:"id"`
	AdminID      uint            `json:"admin_id"`
	Action       string          `json:"action"`
	TargetUserID *uint           `json:"target_user_id,omitempty"`
	Detail       json.RawMessage `json:"detail,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Logs 列出管理员操作记录。
func (h *AdminHandler) Logs(c *gin.Context) {
	if _, ok := h.staff(c); !ok {
		return
	}
	logs, err := h.service.Logs(c.Request.Context(), limitQuery(c, adminListLimit))
	if err != nil {
		h.adminError(c, err, "list admin logs failed")
		return
	}
	out := make([]adminLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, adminLogResponse{
			ID:           l.ID,
			AdminID:      l.AdminID,
			Action:       l.Action,
			TargetUserID: l.TargetUserID,
			Detail:       json.RawMessage(l.Detail),
			CreatedAt:    l.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}
