// Package user は会員プロフィールの作成・編集と、管理者による承認・却下・アカウント管理を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
)

// recentLimit は生徒詳細に含める直近の申請・出席記録の件数。
const recentLimit = 10

// Service はプロフィール管理のサービス層。
type Service struct {
	store     repository.Store
	guard     *auth.Guard
	clock     clock.Clock
	sanitizer security.TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.Store, guard *auth.Guard, c clock.Clock, sanitizer security.TextSanitizer) *Service {
	return &Service{store: store, guard: guard, clock: c, sanitizer: sanitizer}
}

// ProfileInput はプロフィール作成の入力。
type ProfileInput struct {
	FirstName     string
	LastName      string
	Grade         int
	StudentNumber string
}

// CreateProfile はログイン中のユーザーのプロフィールを承認待ちで作成し、ユーザーに紐づける。
// 既にプロフィールがある場合はPROFILE_EXISTSを返す。
func (s *Service) CreateProfile(ctx context.Context, token string, in ProfileInput) (string, error) {
	in = s.clean(in)

	var profileID string
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := s.guard.RequireAuth(ctx, tx, token)
		if err != nil {
			return err
		}
		if user.ProfileID != nil {
			return model.NewProfileExistsError()
		}
		if err := validate(in); err != nil {
			return err
		}

		now := s.clock.Now()
		profile := &model.Profile{
			ID:                 uuid.New().String(),
			UserID:             user.ID,
			FirstName:          in.FirstName,
			LastName:           in.LastName,
			Grade:              in.Grade,
			StudentNumber:      in.StudentNumber,
			VerificationStatus: model.VerificationPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.Profiles().Create(ctx, profile); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return model.NewProfileExistsError()
			}
			return fmt.Errorf("failed to create profile: %w", err)
		}
		if err := tx.Users().LinkProfile(ctx, user.ID, profile.ID); err != nil {
			return fmt.Errorf("failed to link profile: %w", err)
		}
		profileID = profile.ID
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.Info("profile created", slog.String("profile_id", profileID))
	return profileID, nil
}

// ProfilePatch はプロフィールの部分更新。nilのフィールドは変更しない。
type ProfilePatch struct {
	FirstName     *string
	LastName      *string
	Grade         *int
	StudentNumber *string
}

// UpdateProfile はログイン中のユーザーのプロフィールを更新する。承認状態は変更しない。
func (s *Service) UpdateProfile(ctx context.Context, token string, patch ProfilePatch) error {
	return s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := s.guard.RequireAuth(ctx, tx, token)
		if err != nil {
			return err
		}
		if user.ProfileID == nil {
			return model.NewProfileIncompleteError()
		}
		profile, err := tx.Profiles().FindByID(ctx, *user.ProfileID)
		if err != nil {
			return fmt.Errorf("failed to find profile: %w", err)
		}
		if profile == nil {
			return model.NewProfileNotFoundError(*user.ProfileID)
		}

		in := ProfileInput{
			FirstName:     profile.FirstName,
			LastName:      profile.LastName,
			Grade:         profile.Grade,
			StudentNumber: profile.StudentNumber,
		}
		if patch.FirstName != nil {
			in.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			in.LastName = *patch.LastName
		}
		if patch.Grade != nil {
			in.Grade = *patch.Grade
		}
		if patch.StudentNumber != nil {
			in.StudentNumber = *patch.StudentNumber
		}
		in = s.clean(in)
		if err := validate(in); err != nil {
			return err
		}

		profile.FirstName = in.FirstName
		profile.LastName = in.LastName
		profile.Grade = in.Grade
		profile.StudentNumber = in.StudentNumber
		profile.UpdatedAt = s.clock.Now()
		if err := tx.Profiles().UpdateDetails(ctx, profile); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		return nil
	})
}

// VerifyProfile はプロフィールを承認し、本人に通知する。承認済みの場合はALREADY_VERIFIEDを返す。
func (s *Service) VerifyProfile(ctx context.Context, token, profileID string) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := s.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}
		profile, err := findProfile(ctx, tx, profileID)
		if err != nil {
			return err
		}
		if profile.VerificationStatus == model.VerificationVerified {
			return model.NewAlreadyVerifiedError()
		}

		now := s.clock.Now()
		verifier := admin.ID
		profile.VerificationStatus = model.VerificationVerified
		profile.VerifiedAt = &now
		profile.VerifiedBy = &verifier
		profile.RejectionReason = ""
		profile.UpdatedAt = now
		if err := tx.Profiles().UpdateVerification(ctx, profile); err != nil {
			return fmt.Errorf("failed to verify profile: %w", err)
		}

		return notify(ctx, tx, profile.UserID, model.NotificationProfileVerified,
			"Profile verified",
			"Your profile has been verified. You can now submit service hours and check in to meetings.",
			now)
	})
	if err != nil {
		return err
	}

	slog.Info("profile verified", slog.String("profile_id", profileID))
	return nil
}

// RejectProfile はプロフィールを却下し、理由を添えて本人に通知する。理由は必須。
func (s *Service) RejectProfile(ctx context.Context, token, profileID, reason string) error {
	reason = s.sanitizer.Sanitize(reason)

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := s.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}
		if reason == "" {
			return model.NewValidationError("rejection reason is required")
		}
		profile, err := findProfile(ctx, tx, profileID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		verifier := admin.ID
		profile.VerificationStatus = model.VerificationRejected
		profile.VerifiedAt = nil
		profile.VerifiedBy = &verifier
		profile.RejectionReason = reason
		profile.UpdatedAt = now
		if err := tx.Profiles().UpdateVerification(ctx, profile); err != nil {
			return fmt.Errorf("failed to reject profile: %w", err)
		}

		return notify(ctx, tx, profile.UserID, model.NotificationProfileRejected,
			"Profile verification issue",
			fmt.Sprintf("Your profile verification was not approved. Reason: %s", reason),
			now)
	})
	if err != nil {
		return err
	}

	slog.Info("profile rejected", slog.String("profile_id", profileID))
	return nil
}

// SetActive はアカウントの有効・無効を切り替える。管理者は自分自身を無効化できない。
// 無効化されたユーザーのセッションは以後の認証で拒否される。
func (s *Service) SetActive(ctx context.Context, token, userID string, active bool) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := s.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}
		if admin.ID == userID && !active {
			return model.NewValidationError("cannot deactivate your own account")
		}
		target, err := tx.Users().FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if target == nil {
			return model.NewUserNotFoundError(userID)
		}
		if err := tx.Users().SetActive(ctx, userID, active); err != nil {
			return fmt.Errorf("failed to update account status: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("account status changed",
		slog.String("user_id", userID),
		slog.Bool("active", active),
	)
	return nil
}

// StudentEntry はユーザー情報を付加したプロフィール。
type StudentEntry struct {
	Profile  *model.Profile
	Email    string
	Role     model.Role
	IsActive bool
}

// ListStudents は管理者向けにプロフィールを姓・名の順で返す。
// searchは氏名・学籍番号の部分一致。管理者以外は空のスライスを返す。
func (s *Service) ListStudents(ctx context.Context, token string, status *model.VerificationStatus, search string) ([]StudentEntry, error) {
	entries := []StudentEntry{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || !auth.CanVerifyProfiles(user) {
			return err
		}

		profiles, err := tx.Profiles().List(ctx, repository.ProfileFilter{Status: status, Search: strings.TrimSpace(search)})
		if err != nil {
			return fmt.Errorf("failed to list profiles: %w", err)
		}
		for _, p := range profiles {
			entry := StudentEntry{Profile: p}
			u, err := tx.Users().FindByID(ctx, p.UserID)
			if err != nil {
				return fmt.Errorf("failed to find user: %w", err)
			}
			if u != nil {
				entry.Email = u.Email
				entry.Role = u.Role
				entry.IsActive = u.IsActive
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// StudentDetails は生徒1人分の詳細。
type StudentDetails struct {
	Profile           *model.Profile
	User              *model.User // PasswordHashは空にして返す
	RecentSubmissions []*model.ServiceSubmission
	RecentAttendance  []*model.AttendanceRecord
}

// StudentDetails はプロフィールとユーザー情報、直近の申請・出席記録を返す。
// 管理者以外、またはプロフィールが存在しない場合はnilを返す。
func (s *Service) StudentDetails(ctx context.Context, token, profileID string) (*StudentDetails, error) {
	var details *StudentDetails
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || !auth.CanVerifyProfiles(user) {
			return err
		}

		profile, err := tx.Profiles().FindByID(ctx, profileID)
		if err != nil {
			return fmt.Errorf("failed to find profile: %w", err)
		}
		if profile == nil {
			return nil
		}

		student, err := tx.Users().FindByID(ctx, profile.UserID)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if student != nil {
			student.PasswordHash = ""
		}

		submissions, err := tx.Submissions().List(ctx, repository.SubmissionFilter{StudentID: profile.UserID})
		if err != nil {
			return fmt.Errorf("failed to list submissions: %w", err)
		}
		attendance, err := tx.Attendance().ListByStudent(ctx, profile.UserID)
		if err != nil {
			return fmt.Errorf("failed to list attendance: %w", err)
		}

		details = &StudentDetails{
			Profile:           profile,
			User:              student,
			RecentSubmissions: firstN(submissions, recentLimit),
			RecentAttendance:  firstN(attendance, recentLimit),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

func (s *Service) clean(in ProfileInput) ProfileInput {
	return ProfileInput{
		FirstName:     s.sanitizer.Sanitize(in.FirstName),
		LastName:      s.sanitizer.Sanitize(in.LastName),
		Grade:         in.Grade,
		StudentNumber: s.sanitizer.Sanitize(in.StudentNumber),
	}
}

func validate(in ProfileInput) error {
	if in.FirstName == "" || in.LastName == "" {
		return model.NewValidationError("first and last name are required")
	}
	if !model.ValidGrade(in.Grade) {
		return model.NewValidationError("grade must be between 9 and 12")
	}
	return nil
}

func findProfile(ctx context.Context, tx repository.Tx, profileID string) (*model.Profile, error) {
	profile, err := tx.Profiles().FindByID(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError(profileID)
	}
	return profile, nil
}

func notify(ctx context.Context, tx repository.Tx, userID string, typ model.NotificationType, title, message string, now time.Time) error {
	n := &model.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: now,
	}
	if err := tx.Notifications().Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func firstN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
