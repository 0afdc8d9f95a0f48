package api

import (
	"context"

	"portfolioPro/internal/tasks"
)

// TaskQueue 是处理器投递后台任务所需的能力，*tasks.Queue 实现该接口。
type TaskQueue interface {
	Email(ctx context.Context, p tasks.EmailPayload) error
	Invoice(ctx context.Context, p tasks.InvoicePayload) error
	Roster(ctx context.Context, p tasks.RosterPayload) error
	PortfolioPDF(ctx context.Context, p tasks.PortfolioPDFPayload) error
}

var _ TaskQueue = (*tasks.Queue)(nil)

// 前端路由，用于 303 跳转与 redirect 字段。
const (
	paymentPath = "/payment"
	profilePath = "/profile"
)
