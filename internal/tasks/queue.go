package tasks

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer 是 asynq.Client 的子集，便于测试替换。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue 以统一的重试与超时策略投递任务。
type Queue struct {
	client   Enqueuer
	maxRetry int
	timeout  time.Duration
}

// NewQueue 创建 Queue。
func NewQueue(client Enqueuer, maxRetry int, timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Queue{client: client, maxRetry: maxRetry, timeout: timeout}
}

func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, err error) error {
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task, asynq.MaxRetry(q.maxRetry), asynq.Timeout(q.timeout))
	return err
}

// Email 投递邮件任务。
func (q *Queue) Email(ctx context.Context, p EmailPayload) error {
	task, err := NewEmailTask(p)
	return q.enqueue(ctx, task, err)
}

// Invoice 投递发票任务。
func (q *Queue) Invoice(ctx context.Context, p InvoicePayload) error {
	task, err := NewInvoiceTask(p)
	return q.enqueue(ctx, task, err)
}

// Roster 投递花名册任务。
func (q *Queue) Roster(ctx context.Context, p RosterPayload) error {
	task, err := NewRosterTask(p)
	return q.enqueue(ctx, task, err)
}

// PortfolioPDF 投递作品集 PDF 任务。
func (q *Queue) PortfolioPDF(ctx context.Context, p PortfolioPDFPayload) error {
	task, err := NewPortfolioPDFTask(p)
	return q.enqueue(ctx, task, err)
}
