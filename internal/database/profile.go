package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultMaxTemplateChanges  = 50
	DefaultPortfoliosRemaining = 10
)

// ProfileOptions 描述创建 Profile 时可覆盖的字段。
type ProfileOptions struct {
	UserType      string
	CreatedByID   *uint
	FirstName     string
	LastName      string
	Email         string
	TermsAccepted bool
}

// CreateProfile 是创建 Profile 的唯一入口，UserType 缺省为 normal。
func CreateProfile(ctx context.Context, db *gorm.DB, user User, opts ProfileOptions) (*Profile, error) {
	userType := opts.UserType
	if userType == "" {
		userType = UserTypeNormal
	}
	switch userType {
	case UserTypeNormal, UserTypeAgent, UserTypeStudent:
	default:
		return nil, fmt.Errorf("unknown user type %q", userType)
	}

	email := opts.Email
	if email == "" {
		email = user.Email
	}

	profile := Profile{
		UserID:              user.ID,
		UserType:            userType,
		CreatedByID:         opts.CreatedByID,
		MaxTemplateChanges:  DefaultMaxTemplateChanges,
		PortfoliosRemaining: DefaultPortfoliosRemaining,
		FirstName:           opts.FirstName,
		LastName:            opts.LastName,
		Email:               email,
		TermsAccepted:       opts.TermsAccepted,
	}
	if opts.TermsAccepted {
		now := time.Now()
		profile.TermsAcceptedAt = &now
	}

	if err := db.WithContext(ctx).Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return &profile, nil
}

// GetOrCreateProfile 返回用户的 Profile，不存在时按默认值补建。
func GetOrCreateProfile(ctx context.Context, db *gorm.DB, userID uint) (*Profile, error) {
	var profile Profile
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("query profile: %w", err)
	}

	var user User
	if err := db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return CreateProfile(ctx, db, user, ProfileOptions{})
}

// HasPaid 判断用户是否已解锁：代理与学生视为已付款，普通用户需存在付款记录。
func HasPaid(ctx context.Context, db *gorm.DB, profile Profile) (bool, error) {
	if profile.UserType == UserTypeAgent || profile.UserType == UserTypeStudent {
		return true, nil
	}
	var count int64
	if err := db.WithContext(ctx).Model(&Payment{}).Where("user_id = ?", profile.UserID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count payments: %w", err)
	}
	return count > 0, nil
}

// 学生资料状态，用于代理的花名册与导出。
const (
	ProfileStatusNotCreated = "Not Created"
	ProfileStatusNotStarted = "Not Started"
	ProfileStatusInProgress = "In Progress"
	ProfileStatusCompleted  = "Completed"
)

// StudentProfileStatus 根据学生账号的作品集进度返回状态文字。
func StudentProfileStatus(ctx context.Context, db *gorm.DB, studentUserID *uint) (string, error) {
	if studentUserID == nil {
		return ProfileStatusNotCreated, nil
	}
	var portfolios []Portfolio
	if err := db.WithContext(ctx).Where("user_id = ?", *studentUserID).Find(&portfolios).Error; err != nil {
		return "", fmt.Errorf("query student portfolios: %w", err)
	}
	if len(portfolios) == 0 {
		return ProfileStatusNotStarted, nil
	}
	for _, p := range portfolios {
		if p.Status == PortfolioCompleted {
			return ProfileStatusCompleted, nil
		}
	}
	return ProfileStatusInProgress, nil
}
