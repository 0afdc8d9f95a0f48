package auth

import "portfolioPro/internal/database"

// RoleFor 推导用户角色：超级管理员优先，其次管理员，再按用户类型。
func RoleFor(user database.User, profile *database.Profile) string {
	switch {
	case user.IsSuperuser:
		return RoleSuperuser
	case user.IsStaff:
		return RoleStaff
	case profile == nil:
		return RoleNormal
	case profile.UserType == database.UserTypeAgent:
		return RoleAgent
	case profile.UserType == database.UserTypeStudent:
		return RoleStudent
	}
	return RoleNormal
}

// IdentityFor 组装签发令牌所需的信息。
func IdentityFor(user database.User, profile *database.Profile) Identity {
	return Identity{
		UserID:             user.ID,
		Role:               RoleFor(user, profile),
		MustChangePassword: user.MustChangePassword,
		TermsPending:       profile != nil && !profile.TermsAccepted,
	}
}

// HomeFor 登录后按角色跳转的前端路径。
func HomeFor(role string) string {
	switch role {
	case RoleSuperuser, RoleStaff:
		return "/admin/dashboard"
	case RoleAgent:
		return "/agent/dashboard"
	}
	return "/profile"
}
