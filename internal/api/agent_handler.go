package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"portfolioPro/internal/agent"
	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/database"
	"portfolioPro/internal/export"
	"portfolioPro/internal/tasks"
)

const agentPaymentsLimit = 20

// AgentHandler 处理代理仪表盘、学生邀请、批量付款与导出。
type AgentHandler struct {
	db      *gorm.DB
	service *agent.Service
	queue   TaskQueue
	logger  *slog.Logger
}

// NewAgentHandler 构造代理处理器。
func NewAgentHandler(db *gorm.DB, service *agent.Service, queue TaskQueue, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{db: db, service: service, queue: queue, logger: logger}
}

// agentAccount 读取当前代理账号；非代理返回 403。
func (h *AgentHandler) agentAccount(c *gin.Context) (*account, bool) {
	acct, ok := currentAccount(c, h.db, loggerFrom(c, h.logger))
	if !ok {
		return nil, false
	}
	if !acct.Profile.IsAgent() {
		Forbidden(c, "agent access only")
		return nil, false
	}
	return acct, true
}

// writeCSV 生成 CSV 附件。
func writeCSV(c *gin.Context, logger *slog.Logger, filename string, fn func(io.Writer) error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		logger.Error("write csv failed", slog.String("file", filename), slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Dashboard 返回代理仪表盘数据。
func (h *AgentHandler) Dashboard(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	d, err := h.service.Dashboard(c.Request.Context(), acct.User, acct.Profile)
	if err != nil {
		loggerFrom(c, h.logger).Error("agent dashboard failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	c.JSON(http.StatusOK, d)
}

type invitationResponse struct {
	ID               uint       `json:"id"`
	StudentEmail     string     `json:"student_email"`
	StudentUsername  string     `json:"student_username"`
	StudentFirstName string     `json:"student_first_name"`
	StudentLastName  string     `json:"student_last_name"`
	Status           string     `json:"status"`
	RejectionReason  string     `json:"rejection_reason,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toInvitationResponse(inv database.StudentInvitation) invitationResponse {
	return invitationResponse{
		ID:               inv.ID,
		StudentEmail:     inv.StudentEmail,
		StudentUsername:  inv.StudentUsername,
		StudentFirstName: inv.StudentFirstName,
		StudentLastName:  inv.StudentLastName,
		Status:           inv.Status,
		RejectionReason:  inv.RejectionReason,
		ApprovedAt:       inv.ApprovedAt,
		CreatedAt:        inv.CreatedAt,
	}
}

// Invite 提交学生邀请，等待管理员审批。
func (h *AgentHandler) Invite(c *gin.Context) {
	var in agent.InviteInput
	if !bindJSON(c, &in) {
		return
	}
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	inv, err := h.service.Invite(c.Request.Context(), acct.User, acct.Profile, in)
	if err != nil {
		if fieldErrors(c, err) {
			return
		}
		loggerFrom(c, h.logger).Error("invite student failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	loggerFrom(c, h.logger).Info("student invited", slog.Uint64("invitation_id", uint64(inv.ID)))
	c.JSON(http.StatusCreated, toInvitationResponse(*inv))
}

type agentPaymentResponse struct {
	ID             uint      `json:"id"`
	Amount         float64   `json:"amount"`
	StudentCount   int       `json:"student_count"`
	PerStudentCost float64   `json:"per_student_cost"`
	Status         string    `json:"status"`
	OrderID        string    `json:"order_id"`
	PaymentID      string    `json:"payment_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func toAgentPaymentResponse(p database.AgentPayment) agentPaymentResponse {
	return agentPaymentResponse{
		ID:             p.ID,
		Amount:         p.Amount,
		StudentCount:   p.StudentCount,
		PerStudentCost: p.PerStudentCost,
		Status:         p.Status,
		OrderID:        p.OrderID,
		PaymentID:      p.PaymentID,
		CreatedAt:      p.CreatedAt,
	}
}

// PendingPayment 返回等待批量付款的学生与金额。
func (h *AgentHandler) PendingPayment(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	unpaid, err := h.service.UnpaidInvitations(c.Request.Context(), acct.Profile)
	if err != nil {
		loggerFrom(c, h.logger).Error("list unpaid invitations failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	students := make([]invitationResponse, 0, len(unpaid))
	for _, inv := range unpaid {
		students = append(students, toInvitationResponse(inv))
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "count": len(students)})
}

// BulkPay 为全部已审批未付款的学生完成一次批量付款。
func (h *AgentHandler) BulkPay(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	p, err := h.service.BulkPay(c.Request.Context(), acct.Profile)
	if err != nil {
		if errors.Is(err, agent.ErrNothingToPay) {
			BadRequest(c, err.Error())
			return
		}
		loggerFrom(c, h.logger).Error("agent bulk payment failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	loggerFrom(c, h.logger).Info("agent bulk payment completed",
		slog.Uint64("agent_payment_id", uint64(p.ID)),
		slog.Int("students", p.StudentCount),
	)
	c.JSON(http.StatusCreated, toAgentPaymentResponse(*p))
}

// Payments 返回代理最近的批量付款记录。
func (h *AgentHandler) Payments(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	rows, err := h.service.Payments(c.Request.Context(), acct.Profile, agentPaymentsLimit)
	if err != nil {
		loggerFrom(c, h.logger).Error("list agent payments failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	out := make([]agentPaymentResponse, 0, len(rows))
	for _, p := range rows {
		out = append(out, toAgentPaymentResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

// ExportReferrals 导出推荐用户 CSV。
func (h *AgentHandler) ExportReferrals(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	logger := loggerFrom(c, h.logger)
	rows, err := h.service.ReferralRows(c.Request.Context(), acct.User)
	if err != nil {
		logger.Error("load referral rows failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	writeCSV(c, logger, "referred_users.csv", func(w io.Writer) error { return export.Referrals(w, rows) })
}

// ExportInvitations 导出受邀学生 CSV。
func (h *AgentHandler) ExportInvitations(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	logger := loggerFrom(c, h.logger)
	rows, err := h.service.InvitationRows(c.Request.Context(), acct.Profile)
	if err != nil {
		logger.Error("load invitation rows failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	writeCSV(c, logger, "invited_students.csv", func(w io.Writer) error { return export.Invitations(w, rows) })
}

// Roster 投递学生花名册 PDF 任务，完成后通过 WebSocket 推送下载地址。
func (h *AgentHandler) Roster(c *gin.Context) {
	acct, ok := h.agentAccount(c)
	if !ok {
		return
	}
	if h.queue == nil {
		Error(c, http.StatusServiceUnavailable, "task queue unavailable")
		return
	}
	err := h.queue.Roster(c.Request.Context(), tasks.RosterPayload{
		AgentProfileID: acct.Profile.ID,
		UserID:         acct.User.ID,
		CorrelationID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		loggerFrom(c, h.logger).Error("enqueue roster failed", slog.Any("error", err))
		Internal(c, "failed to enqueue roster")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
