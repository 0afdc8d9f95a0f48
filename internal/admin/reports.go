package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"portfolioPro/internal/database"
	"portfolioPro/internal/export"
	"portfolioPro/internal/reports"
)

const (
	paymentListLimit = 200
	topAgentsLimit   = 5
	reportDays       = 7
)

// PaymentFilter 是付款列表的筛选条件。Date 格式为 2006-01-02。
type PaymentFilter struct {
	Q    string `form:"q"`
	Date string `form:"date"`
}

// PaymentRow 是付款列表中的一行。
type PaymentRow struct {
	ID            uint      `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	OrderID       string    `json:"order_id"`
	PaymentID     string    `json:"payment_id"`
	Amount        float64   `json:"amount"`
	InvoiceNumber string    `json:"invoice_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// Payments 按用户名或支付号、日期筛选付款记录。
func (s *Service) Payments(ctx context.Context, f PaymentFilter) ([]PaymentRow, error) {
	db := s.db.WithContext(ctx).
		Model(&database.Payment{}).
		Preload("User").
		Joins("JOIN users ON users.id = payments.user_id")
	if q := strings.TrimSpace(f.Q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(users.username) LIKE ? OR LOWER(payments.payment_id) LIKE ?", like, like)
	}
	if d := strings.TrimSpace(f.Date); d != "" {
		day, err := time.ParseInLocation("2006-01-02", d, time.Local)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", d, err)
		}
		db = db.Where("payments.created_at >= ? AND payments.created_at < ?", day, day.AddDate(0, 0, 1))
	}

	var payments []database.Payment
	if err := db.Order("payments.created_at DESC, payments.id DESC").Limit(paymentListLimit).Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	out := make([]PaymentRow, 0, len(payments))
	for _, p := range payments {
		out = append(out, PaymentRow{
			ID:            p.ID,
			Username:      p.User.Username,
			Email:         p.User.Email,
			OrderID:       p.OrderID,
			PaymentID:     p.PaymentID,
			Amount:        p.AmountRupees(),
			InvoiceNumber: p.InvoiceNumber(),
			CreatedAt:     p.CreatedAt,
		})
	}
	return out, nil
}

// Reports 是报表页数据。
type Reports struct {
	TopAgents     []reports.AgentReferrals `json:"top_agents"`
	DailyPayments []reports.DailyTotal     `json:"daily_payments"`
}

// Reports 返回推荐前五的代理与最近七天的每日收入。
func (s *Service) Reports(ctx context.Context, now time.Time) (Reports, error) {
	top, err := reports.TopAgents(ctx, s.db, topAgentsLimit)
	if err != nil {
		return Reports{}, err
	}
	daily, err := reports.DailyPayments(ctx, s.db, reportDays, now)
	if err != nil {
		return Reports{}, err
	}
	return Reports{TopAgents: top, DailyPayments: daily}, nil
}

// UserRows 返回用户导出数据。
func (s *Service) UserRows(ctx context.Context) ([]export.UserRow, error) {
	var users []database.User
	if err := s.db.WithContext(ctx).Preload("Profile").Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	rows := make([]export.UserRow, 0, len(users))
	for _, u := range users {
		sum := summarize(u)
		rows = append(rows, export.UserRow{
			Username: sum.Username,
			Email:    sum.Email,
			UserType: sum.UserType,
			Blocked:  sum.IsBlocked,
		})
	}
	return rows, nil
}

// TopAgentRows 返回按推荐人数排序的全部代理导出数据。
func (s *Service) TopAgentRows(ctx context.Context) ([]export.AgentRow, error) {
	top, err := reports.TopAgents(ctx, s.db, 0)
	if err != nil {
		return nil, err
	}
	rows := make([]export.AgentRow, 0, len(top))
	for _, a := range top {
		rows = append(rows, export.AgentRow{Username: a.Username, TotalReferrals: a.Total})
	}
	return rows, nil
}
