// Package agent 实现代理面板、学生邀请、批量付款与导出。
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/export"
	"portfolioPro/internal/payment"
	"portfolioPro/internal/reports"
	"portfolioPro/internal/validation"
)

// ErrNothingToPay 表示没有待付款的已审批学生。
var ErrNothingToPay = errors.New("no approved students awaiting payment")

const recentInvitations = 10

// InvitationView 是仪表盘中的一条邀请。
type InvitationView struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ProfileStatus string    `json:"profile_status"`
}

// Dashboard 是代理仪表盘数据。
type Dashboard struct {
	PendingInvitations     int64            `json:"pending_invitations_count"`
	ApprovedStudents       int64            `json:"approved_students_count"`
	StudentsNeedingPayment int              `json:"students_needing_payment"`
	PaymentAmountNeeded    float64          `json:"payment_amount_needed"`
	RecentInvitations      []InvitationView `json:"recent_invitations"`
	ReferralCount          int64            `json:"referral_count"`
	ConversionCount        int64            `json:"conversion_count"`
	ConversionRate         float64          `json:"conversion_rate"`
	Rank                   int              `json:"rank"`
	TotalAgents            int              `json:"total_agents"`
	TotalEarnings          float64          `json:"total_earnings"`
	ReferralURL            string           `json:"referral_url"`
}

// InviteInput 是邀请学生的请求。
type InviteInput struct {
	StudentEmail     string `json:"student_email" binding:"notblank,email,max=254"`
	StudentUsername  string `json:"student_username" binding:"notblank,min=3,max=150"`
	StudentFirstName string `json:"student_first_name" binding:"notblank,max=100,personname"`
	StudentLastName  string `json:"student_last_name" binding:"notblank,max=100,personname"`
}

// Service 封装代理相关的业务。
type Service struct {
	db      *gorm.DB
	siteURL string
}

// NewService 创建 Service，siteURL 用于生成推荐链接。
func NewService(db *gorm.DB, siteURL string) *Service {
	return &Service{db: db, siteURL: strings.TrimRight(siteURL, "/")}
}

// ConversionRate 返回转化率百分比，保留一位小数。
func ConversionRate(converted, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(converted)/float64(total)*1000) / 10
}

// Dashboard 汇总代理的邀请、付款与推荐数据。
func (s *Service) Dashboard(ctx context.Context, user database.User, agent database.Profile) (Dashboard, error) {
	db := s.db.WithContext(ctx)
	d := Dashboard{
		TotalEarnings: agent.AgentTotalEarnings,
		ReferralURL:   fmt.Sprintf("%s/register?ref=%s", s.siteURL, user.Username),
	}

	invitations := func() *gorm.DB {
		return db.Model(&database.StudentInvitation{}).Where("agent_profile_id = ?", agent.ID)
	}
	if err := invitations().Where("status = ?", database.InvitationPending).Count(&d.PendingInvitations).Error; err != nil {
		return Dashboard{}, fmt.Errorf("count pending: %w", err)
	}
	if err := invitations().Where("status = ?", database.InvitationApproved).Count(&d.ApprovedStudents).Error; err != nil {
		return Dashboard{}, fmt.Errorf("count approved: %w", err)
	}

	unpaid, err := s.UnpaidInvitations(ctx, agent)
	if err != nil {
		return Dashboard{}, err
	}
	d.StudentsNeedingPayment = len(unpaid)
	d.PaymentAmountNeeded = payment.BulkAmount(len(unpaid))

	var recent []database.StudentInvitation
	if err := invitations().Order("created_at DESC").Limit(recentInvitations).Find(&recent).Error; err != nil {
		return Dashboard{}, fmt.Errorf("recent invitations: %w", err)
	}
	d.RecentInvitations = make([]InvitationView, 0, len(recent))
	for _, inv := range recent {
		status, err := database.StudentProfileStatus(ctx, s.db, inv.StudentUserID)
		if err != nil {
			return Dashboard{}, err
		}
		d.RecentInvitations = append(d.RecentInvitations, InvitationView{
			ID:            inv.ID,
			Name:          inv.StudentFirstName + " " + inv.StudentLastName,
			Username:      inv.StudentUsername,
			Email:         inv.StudentEmail,
			Status:        inv.Status,
			CreatedAt:     inv.CreatedAt,
			ProfileStatus: status,
		})
	}

	referrals := func() *gorm.DB {
		return db.Model(&database.Referral{}).Where("referrer_id = ?", user.ID)
	}
	if err := referrals().Count(&d.ReferralCount).Error; err != nil {
		return Dashboard{}, fmt.Errorf("count referrals: %w", err)
	}
	if err := referrals().Where("is_converted = ?", true).Count(&d.ConversionCount).Error; err != nil {
		return Dashboard{}, fmt.Errorf("count conversions: %w", err)
	}
	d.ConversionRate = ConversionRate(d.ConversionCount, d.ReferralCount)

	d.Rank, d.TotalAgents, err = reports.Rank(ctx, s.db, user.ID)
	if err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// Invite 创建待审批的学生邀请并通知管理员。用户名、邮箱冲突时返回 validation.FieldErrors。
func (s *Service) Invite(ctx context.Context, user database.User, agent database.Profile, in InviteInput) (*database.StudentInvitation, error) {
	in.StudentEmail = strings.TrimSpace(in.StudentEmail)
	in.StudentUsername = strings.TrimSpace(in.StudentUsername)
	in.StudentFirstName = strings.TrimSpace(in.StudentFirstName)
	in.StudentLastName = strings.TrimSpace(in.StudentLastName)

	errs := validation.Struct(in)
	if len(errs) > 0 {
		return nil, errs
	}

	var invitation database.StudentInvitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&database.User{}).Where("username = ?", in.StudentUsername).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			errs.Add("student_username", "Username already exists")
		}
		if err := tx.Model(&database.User{}).Where("LOWER(email) = LOWER(?)", in.StudentEmail).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			errs.Add("student_email", "Email already exists")
		} else {
			err := tx.Model(&database.StudentInvitation{}).
				Where("agent_profile_id = ? AND LOWER(student_email) = LOWER(?)", agent.ID, in.StudentEmail).
				Count(&n).Error
			if err != nil {
				return err
			}
			if n > 0 {
				errs.Add("student_email", "You have already invited this email address.")
			}
		}
		if len(errs) > 0 {
			return errs
		}

		invitation = database.StudentInvitation{
			AgentProfileID:   agent.ID,
			StudentEmail:     in.StudentEmail,
			StudentUsername:  in.StudentUsername,
			StudentFirstName: in.StudentFirstName,
			StudentLastName:  in.StudentLastName,
			Status:           database.InvitationPending,
		}
		if err := tx.Create(&invitation).Error; err != nil {
			return fmt.Errorf("create invitation: %w", err)
		}

		agentName := agent.FirstName
		if agentName == "" {
			agentName = user.Username
		}
		notification := database.AdminNotification{
			Type:  "student_invitation",
			Title: "New Student Invitation from " + agentName,
			Message: fmt.Sprintf("Agent %s (%s) has added student %q (%s) for approval.",
				user.Username, agentName, in.StudentFirstName+" "+in.StudentLastName, in.StudentEmail),
			InvitationID: &invitation.ID,
		}
		if err := tx.Create(&notification).Error; err != nil {
			return fmt.Errorf("create admin notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &invitation, nil
}

// UnpaidInvitations 返回已审批但尚未被已完成批量付款覆盖的邀请。
func (s *Service) UnpaidInvitations(ctx context.Context, agent database.Profile) ([]database.StudentInvitation, error) {
	paid := s.db.Table("agent_payment_invitations j").
		Select("j.student_invitation_id").
		Joins("JOIN agent_payments ap ON ap.id = j.agent_payment_id").
		Where("ap.status = ? AND ap.deleted_at IS NULL", database.AgentPaymentCompleted)

	var rows []database.StudentInvitation
	err := s.db.WithContext(ctx).
		Where("agent_profile_id = ? AND status = ?", agent.ID, database.InvitationApproved).
		Where("id NOT IN (?)", paid).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query unpaid invitations: %w", err)
	}
	return rows, nil
}

// BulkPay 为全部待付款学生创建一笔已完成的代理付款。
func (s *Service) BulkPay(ctx context.Context, agent database.Profile) (*database.AgentPayment, error) {
	var created database.AgentPayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		unpaid, err := NewService(tx, s.siteURL).UnpaidInvitations(ctx, agent)
		if err != nil {
			return err
		}
		if len(unpaid) == 0 {
			return ErrNothingToPay
		}

		created = database.AgentPayment{
			AgentProfileID: agent.ID,
			Amount:         payment.BulkAmount(len(unpaid)),
			StudentCount:   len(unpaid),
			PerStudentCost: payment.PerStudentCost,
			Status:         database.AgentPaymentCompleted,
			OrderID:        payment.NewReference("agent_order"),
			PaymentID:      payment.NewReference("agent_pay"),
			Invitations:    unpaid,
		}
		if err := tx.Omit("Invitations.*").Create(&created).Error; err != nil {
			return fmt.Errorf("create agent payment: %w", err)
		}
		return tx.Model(&database.Profile{}).Where("id = ?", agent.ID).
			UpdateColumn("agent_payment_completed", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Payments 返回代理最近的批量付款。
func (s *Service) Payments(ctx context.Context, agent database.Profile, limit int) ([]database.AgentPayment, error) {
	var rows []database.AgentPayment
	err := s.db.WithContext(ctx).
		Where("agent_profile_id = ?", agent.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ReferralRows 返回代理推荐用户的导出数据。
func (s *Service) ReferralRows(ctx context.Context, user database.User) ([]export.ReferralRow, error) {
	var referrals []database.Referral
	err := s.db.WithContext(ctx).
		Preload("Referred").
		Where("referrer_id = ?", user.ID).
		Order("registered_at DESC").
		Find(&referrals).Error
	if err != nil {
		return nil, fmt.Errorf("query referrals: %w", err)
	}
	rows := make([]export.ReferralRow, 0, len(referrals))
	for _, r := range referrals {
		rows = append(rows, export.ReferralRow{
			Username:     r.Referred.Username,
			Email:        r.Referred.Email,
			RegisteredOn: r.RegisteredAt,
			Converted:    r.IsConverted,
		})
	}
	return rows, nil
}

// InvitationRows 返回代理邀请学生的导出数据。
func (s *Service) InvitationRows(ctx context.Context, agent database.Profile) ([]export.InvitationRow, error) {
	var invitations []database.StudentInvitation
	err := s.db.WithContext(ctx).
		Where("agent_profile_id = ?", agent.ID).
		Order("created_at DESC").
		Find(&invitations).Error
	if err != nil {
		return nil, fmt.Errorf("query invitations: %w", err)
	}
	rows := make([]export.InvitationRow, 0, len(invitations))
	for _, inv := range invitations {
		status, err := database.StudentProfileStatus(ctx, s.db, inv.StudentUserID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, export.InvitationRow{
			Name:          inv.StudentFirstName + " " + inv.StudentLastName,
			Email:         inv.StudentEmail,
			Status:        inv.Status,
			InvitedOn:     inv.CreatedAt,
			ProfileStatus: status,
		})
	}
	return rows, nil
}
