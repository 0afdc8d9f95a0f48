package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 通知中的任务类型与状态。
const (
	NotifyInvoice      = "invoice"
	NotifyRoster       = "roster"
	NotifyPortfolioPDF = "portfolio_pdf"
	NotifyBroadcast    = "broadcast"
	NotifyInvitation   = "invitation"

	StatusCompleted = "completed"
	StatusError     = "error"
)

// NotifyMessage 通过 Redis Pub/Sub 转发给前端 WebSocket，字段名与前端解析保持一致。
type NotifyMessage struct {
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	ResourceID    uint     `json:"resource_id"`
	CorrelationID string   `json:"correlation_id"`
	Title         string   `json:"title,omitempty"`
	Message       string   `json:"message,omitempty"`
	ErrorCode     int      `json:"error_code"`
	ErrorMessage  string   `json:"error_message"`
	DownloadURL   string   `json:"download_url,omitempty"`
	MissingKeys   []string `json:"missing_keys,omitempty"`
}

// Notifier 向某个用户推送任务结果。
type Notifier interface {
	Notify(ctx context.Context, userID uint, msg NotifyMessage) error
}

// NotifyChannel 返回用户的通知频道名。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// RedisNotifier 把通知发布到 user_notify:{id}。
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier 创建 RedisNotifier。
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID uint, msg NotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
