package auth

import (
	"context"
	"fmt"

	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
)

// Guard はトークンからユーザーを解決し、ロール・承認状態・所有権を検査する。
// すべてのメソッドは呼び出し側のトランザクション内で実行される。
type Guard struct {
	clock clock.Clock
}

// NewGuard はGuardを生成する。
func NewGuard(c clock.Clock) *Guard {
	return &Guard{clock: c}
}

// CurrentUser はトークンに対応する有効なユーザーを返す。
// トークン未指定・未登録・期限切れ、またはユーザーが無効化されている場合はnilを返す。
func (g *Guard) CurrentUser(ctx context.Context, tx repository.Tx, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	session, err := tx.Sessions().FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.ValidAt(g.clock.Now()) {
		return nil, nil
	}

	user, err := tx.Users().FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// RequireAuth は認証済みユーザーを返す。未認証の場合はUNAUTHENTICATEDを返す。
func (g *Guard) RequireAuth(ctx context.Context, tx repository.Tx, token string) (*model.User, error) {
	user, err := g.CurrentUser(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	return user, nil
}

// RequireAdmin は管理者ユーザーを返す。
func (g *Guard) RequireAdmin(ctx context.Context, tx repository.Tx, token string) (*model.User, error) {
	user, err := g.RequireAuth(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if !HasRole(user, model.RoleAdmin) {
		return nil, model.NewForbiddenError("admin")
	}
	return user, nil
}

// RequireAdminOrOfficer は管理者または役員のユーザーを返す。
func (g *Guard) RequireAdminOrOfficer(ctx context.Context, tx repository.Tx, token string) (*model.User, error) {
	user, err := g.RequireAuth(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if !HasRole(user, model.RoleAdmin, model.RoleOfficer) {
		return nil, model.NewForbiddenError("admin or officer")
	}
	return user, nil
}

// RequireVerifiedStudent は承認済みプロフィールを持つユーザーとそのプロフィールを返す。
// 管理者は承認状態の検査を免除されるが、プロフィール自体は必要。
func (g *Guard) RequireVerifiedStudent(ctx context.Context, tx repository.Tx, token string) (*model.User, *model.Profile, error) {
	user, err := g.RequireAuth(ctx, tx, token)
	if err != nil {
		return nil, nil, err
	}
	if user.ProfileID == nil {
		return nil, nil, model.NewProfileIncompleteError()
	}

	profile, err := tx.Profiles().FindByID(ctx, *user.ProfileID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if profile == nil {
		return nil, nil, model.NewProfileIncompleteError()
	}

	if user.Role != model.RoleAdmin && profile.VerificationStatus != model.VerificationVerified {
		return nil, nil, model.NewNotVerifiedError()
	}
	return user, profile, nil
}

// RequireOwnerOrAdmin はユーザーがownerID本人または管理者であることを検査する。
func (g *Guard) RequireOwnerOrAdmin(ctx context.Context, tx repository.Tx, token, ownerID string) (*model.User, error) {
	user, err := g.RequireAuth(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if user.ID != ownerID && user.Role != model.RoleAdmin {
		return nil, model.NewForbiddenError("owner or admin")
	}
	return user, nil
}
