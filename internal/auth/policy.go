package auth

import (
	"slices"

	"github.com/hitoshi/chapterhub/internal/model"
)

// HasRole はユーザーのロールがrolesのいずれかに含まれるかを返す。
func HasRole(user *model.User, roles ...model.Role) bool {
	if user == nil {
		return false
	}
	return slices.Contains(roles, user.Role)
}

// CanViewAllSubmissions は全生徒の申請を閲覧できるかを返す。
func CanViewAllSubmissions(user *model.User) bool {
	return HasRole(user, model.RoleAdmin, model.RoleOfficer)
}

// CanApproveSubmissions は申請を審査できるかを返す。
func CanApproveSubmissions(user *model.User) bool {
	return HasRole(user, model.RoleAdmin)
}

// CanManageOpportunities は奉仕機会を管理できるかを返す。
func CanManageOpportunities(user *model.User) bool {
	return HasRole(user, model.RoleAdmin, model.RoleOfficer)
}

// CanManageMeetings はミーティングとチェックインを管理できるかを返す。
func CanManageMeetings(user *model.User) bool {
	return HasRole(user, model.RoleAdmin)
}

// CanVerifyProfiles はプロフィールを承認・却下できるかを返す。
func CanVerifyProfiles(user *model.User) bool {
	return HasRole(user, model.RoleAdmin)
}
