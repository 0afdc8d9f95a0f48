package mail

import (
	"context"
	"log/slog"
	"sync"
)

// LogSender 只记录日志并保存已发送的邮件，用于开发环境与测试。
type LogSender struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

var _ Sender = (*LogSender)(nil)

// NewLogSender 创建日志发送器，logger 为空时使用 slog.Default。
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send 记录邮件。
func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.Address)
	}
	s.logger.Info("email sent (log sender)",
		slog.Any("to", to),
		slog.String("subject", msg.Subject),
		slog.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

// Sent 返回已记录邮件的副本。
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.sent))
	copy(out, s.sent)
	return out
}
