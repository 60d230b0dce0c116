// Package auth はパスワード認証、セッション管理、認可ガードを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// DefaultSessionTTL はセッションの既定の絶対有効期間。
const DefaultSessionTTL = 7 * 24 * time.Hour

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration // セッションの絶対有効期間。0以下の場合はDefaultSessionTTL
	// AllowRoleSelection がfalseの場合、サインアップ時にstudent以外のロールを指定できない。
	AllowRoleSelection bool
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email    string
	Password string
	Name     string
	Role     model.Role // 省略時はstudent
}

// SessionResult はサインアップ・サインイン成功時に返す値。
// Tokenはこの時点でのみ平文で得られる。
type SessionResult struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
}

// CurrentUser はgetCurrentUserの応答。
type CurrentUser struct {
	User        *model.User
	Profile     *model.Profile
	UnreadCount int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	store     repository.Store
	guard     *Guard
	clock     clock.Clock
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	store repository.Store,
	guard *Guard,
	c clock.Clock,
	sanitizer security.TextSanitizer,
	m metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	return &Service{
		store:     store,
		guard:     guard,
		clock:     c,
		sanitizer: sanitizer,
		metrics:   metrics.OrNop(m),
		config:    config,
	}
}

// SignUp はユーザーを作成し、セッションを発行する。
// メールアドレスは小文字化して保存し、重複時はEMAIL_IN_USEを返す。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*SessionResult, error) {
	email := normalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, model.NewValidationError("email address is invalid")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, model.NewValidationError(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	name := s.sanitizer.Sanitize(in.Name)
	if name == "" {
		return nil, model.NewValidationError("name is required")
	}

	role := in.Role
	if role == "" {
		role = model.RoleStudent
	}
	if !role.Valid() {
		return nil, model.NewValidationError(fmt.Sprintf("unknown role %q", role))
	}
	if role != model.RoleStudent && !s.config.AllowRoleSelection {
		return nil, model.NewForbiddenError("role selection is disabled")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var result *SessionResult
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		existing, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to find user by email: %w", err)
		}
		if existing != nil {
			return model.NewEmailInUseError()
		}

		user := &model.User{
			ID:           uuid.New().String(),
			Email:        email,
			Name:         name,
			PasswordHash: hash,
			Role:         role,
			IsActive:     true,
			CreatedAt:    s.clock.Now(),
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return model.NewEmailInUseError()
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		result, err = s.createSession(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user signed up",
		slog.String("user_id", result.UserID),
		slog.String("role", string(role)),
	)
	return result, nil
}

// SignIn はメールアドレスとパスワードで認証し、新しいセッションを発行する。
// ユーザー不在とパスワード不一致は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*SessionResult, error) {
	email = normalizeEmail(email)

	var result *SessionResult
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.Users().FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to find user by email: %w", err)
		}
		if user == nil {
			return model.NewInvalidCredentialsError()
		}

		ok, err := VerifyPassword(user.PasswordHash, password)
		if err != nil {
			return fmt.Errorf("failed to verify password: %w", err)
		}
		if !ok {
			return model.NewInvalidCredentialsError()
		}
		if !user.IsActive {
			return model.NewAccountDeactivatedError()
		}

		result, err = s.createSession(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		if err := tx.Users().UpdateLastLogin(ctx, user.ID, s.clock.Now()); err != nil {
			return fmt.Errorf("failed to update last login: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordSignIn(signInOutcome(err))
		return nil, err
	}

	s.metrics.RecordSignIn("success")
	slog.Info("user signed in", slog.String("user_id", result.UserID))
	return result, nil
}

// SignOut はトークンに対応するセッションを削除する。
// セッションが存在しない場合も成功として扱う。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Sessions().DeleteByTokenHash(ctx, HashToken(token)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("user signed out")
	return nil
}

// GetCurrentUser はトークンに対応するユーザー、プロフィール、未読通知数を返す。
// 未認証の場合はnilを返す。
func (s *Service) GetCurrentUser(ctx context.Context, token string) (*CurrentUser, error) {
	var current *CurrentUser
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		var profile *model.Profile
		if user.ProfileID != nil {
			profile, err = tx.Profiles().FindByID(ctx, *user.ProfileID)
			if err != nil {
				return fmt.Errorf("failed to find profile: %w", err)
			}
		}

		unread, err := tx.Notifications().CountUnread(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to count unread notifications: %w", err)
		}

		current = &CurrentUser{User: user, Profile: profile, UnreadCount: unread}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return current, nil
}

// ResolveUserID はトークンに対応する有効なセッションのユーザーIDを返す。
// 未認証の場合は空文字を返す。リクエストログとレート制限のキーに使用する。
func (s *Service) ResolveUserID(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	var userID string
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}
		userID = user.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// createSession はトークンを生成し、そのハッシュでセッションを永続化する。
func (s *Service) createSession(ctx context.Context, tx repository.Tx, userID string) (*SessionResult, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.clock.Now()
	session := &model.Session{
		ID:        uuid.New().String(),
		TokenHash: HashToken(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}
	if err := tx.Sessions().Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return &SessionResult{UserID: userID, Token: token, ExpiresAt: session.ExpiresAt}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func signInOutcome(err error) string {
	switch model.CodeOf(err) {
	case model.ErrCodeInvalidCredentials:
		return "invalid_credentials"
	case model.ErrCodeAccountDeactivated:
		return "deactivated"
	}
	return "error"
}
