package admin

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/validation"
	"portfolioPro/internal/worker"
)

// 广播对象。
const (
	AudienceAll      = "all"
	AudienceAgents   = "agents"
	AudienceStudents = "students"
	AudienceNormal   = "normal"
)

// BroadcastInput 是广播通知的请求。
type BroadcastInput struct {
	Title    string `json:"title" binding:"notblank,max=255"`
	Message  string `json:"message" binding:"notblank"`
	Audience string `json:"audience" binding:"omitempty,oneof=all agents students normal"`
	Email    bool   `json:"email"`
}

// BroadcastResult 是广播结果。
type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Emailed    int `json:"emailed"`
}

// Broadcast 向活跃且未被封禁的用户推送通知，可选地同时投递邮件。
func (s *Service) Broadcast(ctx context.Context, admin database.User, in BroadcastInput) (BroadcastResult, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
	if errs := validation.Struct(in); len(errs) > 0 {
		return BroadcastResult{}, errs
	}

	db := s.db.WithContext(ctx).
		Model(&database.User{}).
		Joins("JOIN profiles ON profiles.user_id = users.id AND profiles.deleted_at IS NULL").
		Where("users.is_active = ? AND profiles.is_blocked = ?", true, false)
	switch in.Audience {
	case AudienceAgents:
		db = db.Where("profiles.user_type = ?", database.UserTypeAgent)
	case AudienceStudents:
		db = db.Where("profiles.user_type = ?", database.UserTypeStudent)
	case AudienceNormal:
		db = db.Where("profiles.user_type = ?", database.UserTypeNormal)
	}

	var users []database.User
	if err := db.Order("users.id").Find(&users).Error; err != nil {
		return BroadcastResult{}, fmt.Errorf("query broadcast recipients: %w", err)
	}

	audience := in.Audience
	if audience == "" {
		audience = AudienceAll
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note := database.AdminNotification{Type: "broadcast", Title: in.Title, Message: in.Message, IsRead: true}
		if err := tx.Create(&note).Error; err != nil {
			return fmt.Errorf("create broadcast notification: %w", err)
		}
		return logAction(tx, admin, "broadcast", nil, map[string]any{
			"title":      in.Title,
			"audience":   audience,
			"recipients": len(users),
			"email":      in.Email,
		})
	})
	if err != nil {
		return BroadcastResult{}, err
	}

	var res BroadcastResult
	for _, u := range users {
		s.notify(ctx, u.ID, worker.NotifyMessage{
			Type:    worker.NotifyBroadcast,
			Status:  worker.StatusCompleted,
			Title:   in.Title,
			Message: in.Message,
		})
		res.Recipients++
		if in.Email && u.Email != "" {
			s.sendEmail(ctx, tasks.EmailPayload{To: u.Email, ToName: u.Username, Subject: in.Title, Text: in.Message})
			res.Emailed++
		}
	}
	return res, nil
}
