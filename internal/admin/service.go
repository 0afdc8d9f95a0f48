// Package admin 实现后台管理：学生审批、用户管理、付款、报表、导出与群发。
// 所有写操作都会记录到管理日志。
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/worker"
)

var (
	// ErrConflict 表示审批时学生用户名或邮箱已被占用。
	ErrConflict = errors.New("username already exists")
	// ErrNotPending 表示邀请已处理过。
	ErrNotPending = errors.New("invitation is not pending")
	// ErrProtectedUser 表示目标用户不可删除（超级管理员或自己）。
	ErrProtectedUser = errors.New("user cannot be deleted")
)

const recentApprovals = 10

// Mailer 投递邮件任务，*tasks.Queue 实现该接口。
type Mailer interface {
	Email(ctx context.Context, p tasks.EmailPayload) error
}

// Options 配置 Service。
type Options struct {
	SiteURL string
	AppName string
	Logger  *slog.Logger
}

// Service 封装管理后台的业务。
type Service struct {
	db       *gorm.DB
	store    storage.ObjectStore
	mailer   Mailer
	notifier worker.Notifier
	opts     Options
}

// NewService 创建 Service；store、mailer、notifier 可以为 nil。
func NewService(db *gorm.DB, store storage.ObjectStore, mailer Mailer, notifier worker.Notifier, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AppName == "" {
		opts.AppName = "portfolioPro"
	}
	opts.SiteURL = strings.TrimRight(opts.SiteURL, "/")
	return &Service{db: db, store: store, mailer: mailer, notifier: notifier, opts: opts}
}

// Stats 是管理后台首页的统计数据。
type Stats struct {
	TotalUsers          int64 `json:"total_users"`
	TotalAgents         int64 `json:"total_agents"`
	TotalStudents       int64 `json:"total_students"`
	TotalPortfolios     int64 `json:"total_portfolios"`
	CompletedPortfolios int64 `json:"completed_portfolios"`
	TotalPayments       int64 `json:"total_payments"`
	RevenuePaise        int64 `json:"revenue_paise"`
	PendingApprovals    int64 `json:"pending_approvals"`
	UnreadNotifications int64 `json:"unread_notifications"`
}

// Stats 汇总后台首页数据。
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	var st Stats
	counts := []countQuery{
		{&st.TotalUsers, &database.User{}, "", nil},
		{&st.TotalAgents, &database.Profile{}, "user_type = ?", []any{database.UserTypeAgent}},
		{&st.TotalStudents, &database.Profile{}, "user_type = ?", []any{database.UserTypeStudent}},
		{&st.TotalPortfolios, &database.Portfolio{}, "", nil},
		{&st.CompletedPortfolios, &database.Portfolio{}, "status = ?", []any{database.PortfolioCompleted}},
		{&st.TotalPayments, &database.Payment{}, "", nil},
		{&st.PendingApprovals, &database.StudentInvitation{}, "status = ?", []any{database.InvitationPending}},
		{&st.UnreadNotifications, &database.AdminNotification{}, "is_read = ?", []any{false}},
	}
	if err := runCounts(db, counts); err != nil {
		return Stats{}, err
	}
	if err := db.Model(&database.Payment{}).Select("COALESCE(SUM(amount), 0)").Scan(&st.RevenuePaise).Error; err != nil {
		return Stats{}, fmt.Errorf("sum revenue: %w", err)
	}
	return st, nil
}

// countQuery 统计 model 中满足 where 的行数并写入 dst。
type countQuery struct {
	dst   *int64
	model any
	where string
	args  []any
}

func runCounts(db *gorm.DB, counts []countQuery) error {
	for _, c := range counts {
		q := db.Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return fmt.Errorf("count %T: %w", c.model, err)
		}
	}
	return nil
}

// logAction 写入一条管理员操作记录。
func logAction(tx *gorm.DB, admin database.User, action string, target *uint, detail map[string]any) error {
	entry := database.AdminLog{AdminID: admin.ID, Action: action, TargetUserID: target}
	if detail != nil {
		data, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("marshal admin log detail: %w", err)
		}
		entry.Detail = datatypes.JSON(data)
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("create admin log: %w", err)
	}
	return nil
}

// Logs 返回最近的管理员操作记录。
func (s *Service) Logs(ctx context.Context, limit int) ([]database.AdminLog, error) {
	var rows []database.AdminLog
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Notifications 返回最近的管理员通知。
func (s *Service) Notifications(ctx context.Context, limit int) ([]database.AdminNotification, error) {
	var rows []database.AdminNotification
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkNotificationRead 将通知标记为已读。
func (s *Service) MarkNotificationRead(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&database.AdminNotification{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Service) sendEmail(ctx context.Context, p tasks.EmailPayload) {
	if s.mailer == nil || p.To == "" {
		return
	}
	if err := s.mailer.Email(ctx, p); err != nil {
		s.opts.Logger.Warn("enqueue email failed", "to", p.To, "subject", p.Subject, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, userID uint, msg worker.NotifyMessage) {
	if s.notifier == nil || userID == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, userID, msg); err != nil {
		s.opts.Logger.Warn("publish notification failed", "user_id", userID, "type", msg.Type, "error", err)
	}
}

func userName(u database.User) string {
	if u.Profile != nil && u.Profile.FullName() != "" {
		return u.Profile.FullName()
	}
	return u.Username
}
