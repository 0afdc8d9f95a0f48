package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolioPro/internal/auth"
	"portfolioPro/internal/database"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/worker"
)

// Approvals 是审批页数据。
type Approvals struct {
	Pending  []database.StudentInvitation `json:"pending"`
	Approved []database.StudentInvitation `json:"recently_approved"`
}

// Approvals 返回待审批邀请与最近审批通过的邀请。
func (s *Service) Approvals(ctx context.Context) (Approvals, error) {
	// 每个查询都从新的会话开始，避免条件累积。
	db := s.db.WithContext(ctx)
	var out Approvals
	if err := db.Preload("AgentProfile").Where("status = ?", database.InvitationPending).Order("created_at").Find(&out.Pending).Error; err != nil {
		return Approvals{}, fmt.Errorf("query pending invitations: %w", err)
	}
	err := db.Preload("AgentProfile").Where("status = ?", database.InvitationApproved).
		Order("approved_at DESC").
		Limit(recentApprovals).
		Find(&out.Approved).Error
	if err != nil {
		return Approvals{}, fmt.Errorf("query approved invitations: %w", err)
	}
	return out, nil
}

// Approval 是审批通过的结果。TempPassword 仅在本次响应中出现。
type Approval struct {
	Invitation   database.StudentInvitation `json:"invitation"`
	Student      database.User              `json:"-"`
	TempPassword string                     `json:"temp_password"`
}

func pendingInvitation(tx *gorm.DB, id uint) (*database.StudentInvitation, error) {
	var inv database.StudentInvitation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Preload("AgentProfile").First(&inv, id).Error
	if err != nil {
		return nil, err
	}
	if inv.Status != database.InvitationPending {
		return nil, ErrNotPending
	}
	return &inv, nil
}

// Approve 为邀请创建学生账号（随机临时密码、首次登录必须改密、需重新同意条款），
// 然后尽力发送账号邮件并通知代理。用户名或邮箱已存在时返回 ErrConflict。
func (s *Service) Approve(ctx context.Context, admin database.User, invitationID uint) (*Approval, error) {
	password, err := auth.GenerateTempPassword(auth.TempPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	var out Approval
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := pendingInvitation(tx, invitationID)
		if err != nil {
			return err
		}

		var n int64
		err = tx.Model(&database.User{}).
			Where("username = ? OR LOWER(email) = LOWER(?)", inv.StudentUsername, inv.StudentEmail).
			Count(&n).Error
		if err != nil {
			return fmt.Errorf("check student username: %w", err)
		}
		if n > 0 {
			return ErrConflict
		}

		student := database.User{
			Username:           inv.StudentUsername,
			Email:              inv.StudentEmail,
			PasswordHash:       hash,
			IsActive:           true,
			MustChangePassword: true,
		}
		if err := tx.Create(&student).Error; err != nil {
			return fmt.Errorf("create student user: %w", err)
		}
		agentID := inv.AgentProfileID
		if _, err := database.CreateProfile(ctx, tx, student, database.ProfileOptions{
			UserType:    database.UserTypeStudent,
			CreatedByID: &agentID,
			FirstName:   inv.StudentFirstName,
			LastName:    inv.StudentLastName,
			Email:       inv.StudentEmail,
		}); err != nil {
			return err
		}

		approvedAt := time.Now()
		adminID := admin.ID
		err = tx.Model(&database.StudentInvitation{}).Where("id = ?", inv.ID).Updates(map[string]any{
			"status":          database.InvitationApproved,
			"approved_at":     approvedAt,
			"approved_by_id":  adminID,
			"student_user_id": student.ID,
		}).Error
		if err != nil {
			return fmt.Errorf("approve invitation: %w", err)
		}
		inv.Status = database.InvitationApproved
		inv.ApprovedAt = &approvedAt
		inv.ApprovedByID = &adminID
		inv.StudentUserID = &student.ID

		if err := logAction(tx, admin, "approve_student", &student.ID, map[string]any{
			"invitation_id": inv.ID,
			"agent_profile": inv.AgentProfileID,
			"username":      student.Username,
		}); err != nil {
			return err
		}
		out = Approval{Invitation: *inv, Student: student, TempPassword: password}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inv := out.Invitation
	s.sendEmail(ctx, tasks.EmailPayload{
		To:      inv.StudentEmail,
		ToName:  inv.StudentFirstName + " " + inv.StudentLastName,
		Subject: "Your " + s.opts.AppName + " account is ready",
		Text: fmt.Sprintf("Hello %s,\n\nYour account has been created.\n\nUsername: %s\nTemporary password: %s\n\nSign in at %s/login and choose a new password.\n",
			inv.StudentFirstName, inv.StudentUsername, password, s.opts.SiteURL),
	})
	s.notify(ctx, inv.AgentProfile.UserID, worker.NotifyMessage{
		Type:       worker.NotifyInvitation,
		Status:     database.InvitationApproved,
		ResourceID: inv.ID,
		Title:      "Student approved",
		Message:    fmt.Sprintf("%s %s has been approved.", inv.StudentFirstName, inv.StudentLastName),
	})
	return &out, nil
}

// Reject 拒绝邀请并记录原因。
func (s *Service) Reject(ctx context.Context, admin database.User, invitationID uint, reason string) (*database.StudentInvitation, error) {
	reason = strings.TrimSpace(reason)
	var out database.StudentInvitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := pendingInvitation(tx, invitationID)
		if err != nil {
			return err
		}
		err = tx.Model(&database.StudentInvitation{}).Where("id = ?", inv.ID).Updates(map[string]any{
			"status":           database.InvitationRejected,
			"rejection_reason": reason,
		}).Error
		if err != nil {
			return fmt.Errorf("reject invitation: %w", err)
		}
		inv.Status = database.InvitationRejected
		inv.RejectionReason = reason
		out = *inv
		return logAction(tx, admin, "reject_student", nil, map[string]any{
			"invitation_id": inv.ID,
			"reason":        reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, out.AgentProfile.UserID, worker.NotifyMessage{
		Type:       worker.NotifyInvitation,
		Status:     database.InvitationRejected,
		ResourceID: out.ID,
		Title:      "Student invitation rejected",
		Message:    out.RejectionReason,
	})
	return &out, nil
}
