package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

type recordingClient struct {
	tasks []*asynq.Task
}

func (r *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t", Type: task.Type()}, nil
}

func TestQueueEnqueuesTypedPayloads(t *testing.T) {
	client := &recordingClient{}
	q := NewQueue(client, 3, time.Minute)
	ctx := context.Background()

	if err := q.Invoice(ctx, InvoicePayload{PaymentID: 9, Email: true, CorrelationID: "c1"}); err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if err := q.PortfolioPDF(ctx, PortfolioPDFPayload{PortfolioID: 4}); err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if len(client.tasks) != 2 {
		t.Fatalf("tasks = %d", len(client.tasks))
	}
	if client.tasks[0].Type() != TypeInvoiceGenerate || client.tasks[1].Type() != TypePortfolioPDF {
		t.Fatalf("unexpected types %s %s", client.tasks[0].Type(), client.tasks[1].Type())
	}
	var p InvoicePayload
	if err := json.Unmarshal(client.tasks[0].Payload(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.PaymentID != 9 || !p.Email || p.CorrelationID != "c1" {
		t.Fatalf("payload = %+v", p)
	}
}
