package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/portfolio"
	"portfolioPro/internal/storage"
)

const (
	userListLimit    = 200
	previewFileLimit = 100
)

// UserSummary 是用户列表中的一行。
type UserSummary struct {
	ID          uint       `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	UserType    string     `json:"user_type"`
	IsStaff     bool       `json:"is_staff"`
	IsActive    bool       `json:"is_active"`
	IsBlocked   bool       `json:"is_blocked"`
	BlockReason string     `json:"block_reason,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func summarize(u database.User) UserSummary {
	row := UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Name:        userName(u),
		UserType:    database.UserTypeNormal,
		IsStaff:     u.IsStaff || u.IsSuperuser,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
	if u.Profile != nil {
		row.UserType = u.Profile.UserType
		row.IsBlocked = u.Profile.IsBlocked
		row.BlockReason = u.Profile.BlockReason
	}
	return row
}

func (s *Service) searchUsers(ctx context.Context, q string) *gorm.DB {
	db := s.db.WithContext(ctx).Preload("Profile")
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(email) LIKE ?", like, like)
	}
	return db
}

// Users 按用户名或邮箱搜索用户，最新注册的在前。
func (s *Service) Users(ctx context.Context, q string) ([]UserSummary, error) {
	var users []database.User
	if err := s.searchUsers(ctx, q).Order("created_at DESC, id DESC").Limit(userListLimit).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, summarize(u))
	}
	return out, nil
}

// AgentSummary 是代理列表中的一行。
type AgentSummary struct {
	UserSummary
	ProfileID     uint    `json:"profile_id"`
	Referrals     int64   `json:"referrals"`
	Students      int64   `json:"students"`
	TotalEarnings float64 `json:"total_earnings"`
}

// Agents 返回全部代理及其推荐人数与学生数。
func (s *Service) Agents(ctx context.Context) ([]AgentSummary, error) {
	db := s.db.WithContext(ctx)
	var profiles []database.Profile
	if err := db.Where("user_type = ?", database.UserTypeAgent).Order("id").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	out := make([]AgentSummary, 0, len(profiles))
	for i := range profiles {
		p := profiles[i]
		var user database.User
		if err := db.First(&user, p.UserID).Error; err != nil {
			return nil, fmt.Errorf("query agent user %d: %w", p.UserID, err)
		}
		user.Profile = &p

		row := AgentSummary{UserSummary: summarize(user), ProfileID: p.ID, TotalEarnings: p.AgentTotalEarnings}
		if err := db.Model(&database.Referral{}).Where("referrer_id = ?", user.ID).Count(&row.Referrals).Error; err != nil {
			return nil, fmt.Errorf("count referrals: %w", err)
		}
		if err := db.Model(&database.Profile{}).Where("created_by_id = ?", p.ID).Count(&row.Students).Error; err != nil {
			return nil, fmt.Errorf("count students: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// Block 封禁用户并记录原因。
func (s *Service) Block(ctx context.Context, admin database.User, userID uint, reason string) error {
	reason = strings.TrimSpace(reason)
	if admin.ID == userID {
		return ErrProtectedUser
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := database.GetOrCreateProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		err = tx.Model(profile).Updates(map[string]any{
			"is_blocked":    true,
			"blocked_since": time.Now(),
			"block_reason":  reason,
		}).Error
		if err != nil {
			return fmt.Errorf("block user: %w", err)
		}
		return logAction(tx, admin, "block_user", &userID, map[string]any{"reason": reason})
	})
}

// Unblock 解除封禁。
func (s *Service) Unblock(ctx context.Context, admin database.User, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile, err := database.GetOrCreateProfile(ctx, tx, userID)
		if err != nil {
			return err
		}
		err = tx.Model(profile).Updates(map[string]any{
			"is_blocked":    false,
			"blocked_since": nil,
			"block_reason":  "",
		}).Error
		if err != nil {
			return fmt.Errorf("unblock user: %w", err)
		}
		return logAction(tx, admin, "unblock_user", &userID, nil)
	})
}

// DeletePreview 列出删除用户时会一并删除的数据。
type DeletePreview struct {
	User            UserSummary `json:"user"`
	Portfolios      int64       `json:"portfolios"`
	Payments        int64       `json:"payments"`
	Activities      int64       `json:"activities"`
	Referrals       int64       `json:"referrals"`
	Invitations     int64       `json:"invitations"`
	StudentsCreated int64       `json:"students_created"`
	AdminLogs       int64       `json:"admin_logs"`
	Files           []string    `json:"files"`
}

func (s *Service) deletable(tx *gorm.DB, admin database.User, userID uint) (*database.User, error) {
	var user database.User
	if err := tx.Preload("Profile").First(&user, userID).Error; err != nil {
		return nil, err
	}
	if user.IsSuperuser || user.ID == admin.ID {
		return nil, ErrProtectedUser
	}
	return &user, nil
}

// PreviewDelete 统计删除 userID 会影响的记录与对象。
func (s *Service) PreviewDelete(ctx context.Context, admin database.User, userID uint) (*DeletePreview, error) {
	db := s.db.WithContext(ctx)
	user, err := s.deletable(db, admin, userID)
	if err != nil {
		return nil, err
	}
	out := DeletePreview{User: summarize(*user), Files: []string{}}
	counts := []countQuery{
		{&out.Portfolios, &database.Portfolio{}, "user_id = ?", []any{userID}},
		{&out.Payments, &database.Payment{}, "user_id = ?", []any{userID}},
		{&out.Activities, &database.UserActivity{}, "user_id = ?", []any{userID}},
		{&out.Referrals, &database.Referral{}, "referrer_id = ? OR referred_id = ?", []any{userID, userID}},
		{&out.AdminLogs, &database.AdminLog{}, "admin_id = ? OR target_user_id = ?", []any{userID, userID}},
	}
	if user.Profile != nil {
		counts = append(counts,
			countQuery{&out.Invitations, &database.StudentInvitation{}, "agent_profile_id = ?", []any{user.Profile.ID}},
			countQuery{&out.StudentsCreated, &database.Profile{}, "created_by_id = ?", []any{user.Profile.ID}},
		)
	}
	if err := runCounts(db, counts); err != nil {
		return nil, err
	}

	if s.store != nil {
		for _, prefix := range storage.UserPrefixes(userID) {
			objects, err := s.store.ListObjects(ctx, prefix, previewFileLimit)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", prefix, err)
			}
			for _, obj := range objects {
				out.Files = append(out.Files, obj.Key)
			}
		}
	}
	return &out, nil
}

// DeleteUser 永久删除用户及其数据。代理创建的学生保留，来源置空。
func (s *Service) DeleteUser(ctx context.Context, admin database.User, userID uint) error {
	var username string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.deletable(tx, admin, userID)
		if err != nil {
			return err
		}
		username = user.Username

		var portfolios []database.Portfolio
		if err := tx.Where("user_id = ?", userID).Find(&portfolios).Error; err != nil {
			return fmt.Errorf("query portfolios: %w", err)
		}
		store := portfolio.NewStore(tx)
		for _, p := range portfolios {
			if err := store.Delete(ctx, p); err != nil {
				return err
			}
		}

		if user.Profile != nil {
			pid := user.Profile.ID
			if err := tx.Model(&database.Profile{}).Where("created_by_id = ?", pid).Update("created_by_id", nil).Error; err != nil {
				return fmt.Errorf("detach students: %w", err)
			}
			var invitationIDs []uint
			if err := tx.Model(&database.StudentInvitation{}).Where("agent_profile_id = ?", pid).Pluck("id", &invitationIDs).Error; err != nil {
				return fmt.Errorf("query invitations: %w", err)
			}
			if len(invitationIDs) > 0 {
				if err := tx.Where("invitation_id IN ?", invitationIDs).Delete(&database.AdminNotification{}).Error; err != nil {
					return fmt.Errorf("delete invitation notifications: %w", err)
				}
			}
			if err := tx.Exec("DELETE FROM agent_payment_invitations WHERE agent_payment_id IN (SELECT id FROM agent_payments WHERE agent_profile_id = ?)", pid).Error; err != nil {
				return fmt.Errorf("delete agent payment links: %w", err)
			}
			for _, m := range []any{&database.AgentPayment{}, &database.StudentInvitation{}} {
				if err := tx.Unscoped().Where("agent_profile_id = ?", pid).Delete(m).Error; err != nil {
					return fmt.Errorf("delete %T: %w", m, err)
				}
			}
			if err := tx.Unscoped().Delete(&database.Profile{}, pid).Error; err != nil {
				return fmt.Errorf("delete profile: %w", err)
			}
		}

		deletes := []struct {
			model any
			where string
			args  []any
		}{
			{&database.Payment{}, "user_id = ?", []any{userID}},
			{&database.UserActivity{}, "user_id = ?", []any{userID}},
			{&database.Referral{}, "referrer_id = ? OR referred_id = ?", []any{userID, userID}},
			{&database.AdminLog{}, "admin_id = ? OR target_user_id = ?", []any{userID, userID}},
		}
		for _, d := range deletes {
			if err := tx.Unscoped().Where(d.where, d.args...).Delete(d.model).Error; err != nil {
				return fmt.Errorf("delete %T: %w", d.model, err)
			}
		}
		if err := tx.Model(&database.StudentInvitation{}).Where("student_user_id = ?", userID).Update("student_user_id", nil).Error; err != nil {
			return fmt.Errorf("detach invitation: %w", err)
		}
		if err := tx.Unscoped().Delete(&database.User{}, userID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return logAction(tx, admin, "delete_user", nil, map[string]any{"user_id": userID, "username": username})
	})
	if err != nil {
		return err
	}

	if s.store != nil {
		for _, prefix := range storage.UserPrefixes(userID) {
			if err := s.store.DeletePrefix(ctx, prefix); err != nil {
				// 数据库记录已删除，残留对象只记录日志。
				s.opts.Logger.Warn("delete user objects failed", "user_id", userID, "prefix", prefix, "error", err)
			}
		}
	}
	return nil
}
