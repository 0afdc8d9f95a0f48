package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeEmailSend       = "email:send"
	TypeInvoiceGenerate = "invoice:generate"
	TypeRosterGenerate  = "roster:generate"
	TypePortfolioPDF    = "portfolio:pdf"
)

// EmailPayload 描述一封待发送的通知邮件。
type EmailPayload struct {
	To            string `json:"to"`
	ToName        string `json:"to_name"`
	Subject       string `json:"subject"`
	Text          string `json:"text"`
	HTML          string `json:"html,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// InvoicePayload 生成发票 PDF；Email 为 true 时生成后发送邮件。
type InvoicePayload struct {
	PaymentID     uint   `json:"payment_id"`
	Email         bool   `json:"email"`
	CorrelationID string `json:"correlation_id"`
}

// RosterPayload 生成代理的学生花名册 PDF。
type RosterPayload struct {
	AgentProfileID uint   `json:"agent_profile_id"`
	UserID         uint   `json:"user_id"`
	CorrelationID  string `json:"correlation_id"`
}

// PortfolioPDFPayload 将作品集导出为 PDF。
type PortfolioPDFPayload struct {
	PortfolioID   uint   `json:"portfolio_id"`
	CorrelationID string `json:"correlation_id"`
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}

// NewEmailTask 构造邮件任务。
func NewEmailTask(p EmailPayload) (*asynq.Task, error) { return newTask(TypeEmailSend, p) }

// NewInvoiceTask 构造发票任务。
func NewInvoiceTask(p InvoicePayload) (*asynq.Task, error) { return newTask(TypeInvoiceGenerate, p) }

// NewRosterTask 构造花名册任务。
func NewRosterTask(p RosterPayload) (*asynq.Task, error) { return newTask(TypeRosterGenerate, p) }

// NewPortfolioPDFTask 构造作品集 PDF 任务。
func NewPortfolioPDFTask(p PortfolioPDFPayload) (*asynq.Task, error) {
	return newTask(TypePortfolioPDF, p)
}
