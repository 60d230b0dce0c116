// Package servicehours は奉仕時間申請の提出・編集・審査と、
// プロフィールの保留時間・承認時間の集計を管理する。
package servicehours

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
)

const (
	// MinHours は1申請あたりの最小時間（15分）。
	MinHours = 0.25
	// MaxHours は1申請あたりの最大時間。
	MaxHours = 12.0
	// MinDescriptionLength は活動内容の最小文字数。
	MinDescriptionLength = 10
)

// CalculateHours は"HH:MM"形式の開始・終了時刻から時間数を計算し、0.25時間単位に丸める。
// 丸めはmath.Roundと同じく0から遠い方向に行う。終了が開始より前の場合は負の値を返す。
func CalculateHours(start, end string) (float64, error) {
	startMinutes, err := model.ParseTimeOfDay(start)
	if err != nil {
		return 0, err
	}
	endMinutes, err := model.ParseTimeOfDay(end)
	if err != nil {
		return 0, err
	}
	hours := float64(endMinutes-startMinutes) / 60
	return math.Round(hours*4) / 4, nil
}

// ServiceConfig は奉仕時間サービスの設定。
type ServiceConfig struct {
	// ProbeEvidence がtrueの場合、証跡リンクの到達性をHEADリクエストで確認する。
	ProbeEvidence bool
}

// Service は奉仕時間申請の状態遷移を提供する。
// 状態は pending → {approved, denied, revision_requested}、revision_requested → pending のみ。
type Service struct {
	store     repository.Store
	guard     *auth.Guard
	clock     clock.Clock
	sanitizer security.TextSanitizer
	links     security.LinkGuard
	metrics   metrics.MetricsCollector
	config    ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	store repository.Store,
	guard *auth.Guard,
	c clock.Clock,
	sanitizer security.TextSanitizer,
	links security.LinkGuard,
	m metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		clock:     c,
		sanitizer: sanitizer,
		links:     links,
		metrics:   metrics.OrNop(m),
		config:    config,
	}
}

// SubmitInput は奉仕時間申請の入力。
type SubmitInput struct {
	OrganizationName string
	ServiceDate      string // YYYY-MM-DD
	StartTime        string // HH:MM
	EndTime          string // HH:MM
	Description      string
	SupervisorName   string
	SupervisorEmail  string
	SupervisorPhone  string
	EvidenceURL      string
	EvidenceFileName string
}

// Submit は承認済み生徒の奉仕時間申請を作成し、保留時間に加算する。作成した申請IDを返す。
func (s *Service) Submit(ctx context.Context, token string, in SubmitInput) (string, error) {
	in = s.clean(in)

	if s.config.ProbeEvidence && in.EvidenceURL != "" {
		if err := s.probeEvidence(ctx, token, in.EvidenceURL); err != nil {
			return "", err
		}
	}

	var submission *model.ServiceSubmission
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, profile, err := s.guard.RequireVerifiedStudent(ctx, tx, token)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		hours, err := s.validate(in, model.DateOf(now))
		if err != nil {
			return err
		}

		submission = &model.ServiceSubmission{
			ID:        uuid.New().String(),
			StudentID: user.ID,
			ProfileID: profile.ID,
			Status:    model.SubmissionPending,
			CreatedAt: now,
		}
		apply(submission, in, hours, now)
		if err := tx.Submissions().Create(ctx, submission); err != nil {
			return fmt.Errorf("failed to create submission: %w", err)
		}
		if err := tx.Profiles().AdjustHours(ctx, profile.ID, hours, 0); err != nil {
			return fmt.Errorf("failed to add pending hours: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordSubmission()
	slog.Info("service hours submitted",
		slog.String("submission_id", submission.ID),
		slog.String("student_id", submission.StudentID),
		slog.Float64("hours", submission.TotalHours),
	)
	return submission.ID, nil
}

// SubmissionPatch は申請の部分更新。nilのフィールドは変更しない。
type SubmissionPatch struct {
	OrganizationName *string
	ServiceDate      *string
	StartTime        *string
	EndTime          *string
	Description      *string
	SupervisorName   *string
	SupervisorEmail  *string
	SupervisorPhone  *string
}

// Update は本人の申請を更新する。pendingまたはrevision_requestedの申請のみ変更できる。
// 時間数の差分は保留時間に反映し、revision_requestedの申請は再提出としてpendingに戻す。
func (s *Service) Update(ctx context.Context, token, submissionID string, patch SubmissionPatch) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := s.guard.RequireAuth(ctx, tx, token)
		if err != nil {
			return err
		}

		submission, err := lockOwned(ctx, tx, submissionID, user)
		if err != nil {
			return err
		}
		if !submission.Status.Editable() {
			return model.NewSubmissionLockedError(submission.Status)
		}

		now := s.clock.Now()
		in := s.clean(patch.applyTo(inputOf(submission)))
		hours, err := s.validate(in, model.DateOf(now))
		if err != nil {
			return err
		}

		delta := hours - submission.TotalHours
		apply(submission, in, hours, now)
		if submission.Status == model.SubmissionRevisionRequested {
			submission.Status = model.SubmissionPending
			submission.ResubmissionCount++
		}
		if err := tx.Submissions().Update(ctx, submission); err != nil {
			return fmt.Errorf("failed to update submission: %w", err)
		}
		if delta != 0 {
			if err := tx.Profiles().AdjustHours(ctx, submission.ProfileID, delta, 0); err != nil {
				return fmt.Errorf("failed to adjust pending hours: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("service hours updated", slog.String("submission_id", submissionID))
	return nil
}

// Delete は本人のpending申請を削除し、保留時間から差し引く（0未満にはならない）。
func (s *Service) Delete(ctx context.Context, token, submissionID string) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := s.guard.RequireAuth(ctx, tx, token)
		if err != nil {
			return err
		}

		submission, err := lockOwned(ctx, tx, submissionID, user)
		if err != nil {
			return err
		}
		if submission.Status != model.SubmissionPending {
			return model.NewSubmissionLockedError(submission.Status)
		}

		if err := tx.Profiles().AdjustHours(ctx, submission.ProfileID, -submission.TotalHours, 0); err != nil {
			return fmt.Errorf("failed to remove pending hours: %w", err)
		}
		if err := tx.Submissions().Delete(ctx, submissionID); err != nil {
			return fmt.Errorf("failed to delete submission: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("service hours deleted", slog.String("submission_id", submissionID))
	return nil
}

// ListMine は本人の申請を新しい順で返す。statusがnilの場合は全状態を返す。
// 未認証の場合は空のスライスを返す。
func (s *Service) ListMine(ctx context.Context, token string, status *model.SubmissionStatus) ([]*model.ServiceSubmission, error) {
	submissions := []*model.ServiceSubmission{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		list, err := tx.Submissions().List(ctx, repository.SubmissionFilter{StudentID: user.ID, Status: status})
		if err != nil {
			return fmt.Errorf("failed to list submissions: %w", err)
		}
		submissions = append(submissions, list...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return submissions, nil
}

// SubmissionView は生徒情報を付加した申請。
type SubmissionView struct {
	Submission   *model.ServiceSubmission
	StudentName  string
	StudentEmail string
	StudentGrade int
}

// Get は申請を1件返す。本人または管理者以外、存在しない場合はnilを返す。
// 管理者が他人の申請を参照した場合のみ生徒情報を付加する。
func (s *Service) Get(ctx context.Context, token, submissionID string) (*SubmissionView, error) {
	var view *SubmissionView
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil {
			return err
		}

		submission, err := tx.Submissions().FindByID(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("failed to find submission: %w", err)
		}
		if submission == nil {
			return nil
		}

		isOwner := submission.StudentID == user.ID
		isAdmin := user.Role == model.RoleAdmin
		switch {
		case isOwner:
			view = &SubmissionView{Submission: submission}
		case isAdmin:
			v, err := describe(ctx, tx, submission)
			if err != nil {
				return err
			}
			view = &v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Service) clean(in SubmitInput) SubmitInput {
	return SubmitInput{
		OrganizationName: s.sanitizer.Sanitize(in.OrganizationName),
		ServiceDate:      strings.TrimSpace(in.ServiceDate),
		StartTime:        strings.TrimSpace(in.StartTime),
		EndTime:          strings.TrimSpace(in.EndTime),
		Description:      s.sanitizer.Sanitize(in.Description),
		SupervisorName:   s.sanitizer.Sanitize(in.SupervisorName),
		SupervisorEmail:  strings.TrimSpace(in.SupervisorEmail),
		SupervisorPhone:  s.sanitizer.Sanitize(in.SupervisorPhone),
		EvidenceURL:      strings.TrimSpace(in.EvidenceURL),
		EvidenceFileName: s.sanitizer.Sanitize(in.EvidenceFileName),
	}
}

// validate は申請内容を検証し、丸め済みの時間数を返す。todayは"YYYY-MM-DD"形式の基準日。
func (s *Service) validate(in SubmitInput, today string) (float64, error) {
	hours, err := CalculateHours(in.StartTime, in.EndTime)
	if err != nil {
		return 0, model.NewValidationError("start and end time must be HH:MM")
	}
	if hours < MinHours {
		return 0, model.NewValidationError("minimum submission is 0.25 hours (15 minutes)")
	}
	if hours > MaxHours {
		return 0, model.NewValidationError("maximum submission is 12 hours per entry")
	}

	if !model.ValidDate(in.ServiceDate) {
		return 0, model.NewValidationError("service date must be YYYY-MM-DD")
	}
	if in.ServiceDate > today {
		return 0, model.NewValidationError("service date cannot be in the future")
	}

	if utf8.RuneCountInString(in.Description) < MinDescriptionLength {
		return 0, model.NewValidationError(fmt.Sprintf("description must be at least %d characters", MinDescriptionLength))
	}
	if in.OrganizationName == "" {
		return 0, model.NewValidationError("organization name is required")
	}
	if in.SupervisorName == "" {
		return 0, model.NewValidationError("supervisor name is required")
	}
	if addr, err := mail.ParseAddress(in.SupervisorEmail); err != nil || addr.Address != in.SupervisorEmail {
		return 0, model.NewValidationError("supervisor email is invalid")
	}

	if in.EvidenceURL != "" {
		if err := s.links.ValidateURL(in.EvidenceURL); err != nil {
			return 0, model.NewValidationError(fmt.Sprintf("evidence link is not allowed: %v", err))
		}
	}
	return hours, nil
}

// probeEvidence は証跡リンクの到達性を確認する。
// 書き込みトランザクションの外で行うため、先に申請権限だけを確認する。
func (s *Service) probeEvidence(ctx context.Context, token, rawURL string) error {
	err := s.store.View(ctx, func(tx repository.Tx) error {
		_, _, err := s.guard.RequireVerifiedStudent(ctx, tx, token)
		return err
	})
	if err != nil {
		return err
	}
	if err := s.links.Probe(ctx, rawURL); err != nil {
		slog.Warn("evidence link probe failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return model.NewValidationError(fmt.Sprintf("evidence link is not reachable: %v", err))
	}
	return nil
}

func lockOwned(ctx context.Context, tx repository.Tx, submissionID string, user *model.User) (*model.ServiceSubmission, error) {
	submission, err := tx.Submissions().LockByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock submission: %w", err)
	}
	if submission == nil {
		return nil, model.NewSubmissionNotFoundError(submissionID)
	}
	if submission.StudentID != user.ID {
		return nil, model.NewForbiddenError("submission owner")
	}
	return submission, nil
}

func inputOf(sub *model.ServiceSubmission) SubmitInput {
	return SubmitInput{
		OrganizationName: sub.OrganizationName,
		ServiceDate:      sub.ServiceDate,
		StartTime:        sub.StartTime,
		EndTime:          sub.EndTime,
		Description:      sub.Description,
		SupervisorName:   sub.SupervisorName,
		SupervisorEmail:  sub.SupervisorEmail,
		SupervisorPhone:  sub.SupervisorPhone,
		EvidenceURL:      sub.EvidenceURL,
		EvidenceFileName: sub.EvidenceFileName,
	}
}

func (p SubmissionPatch) applyTo(in SubmitInput) SubmitInput {
	set := func(dst, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&in.OrganizationName, p.OrganizationName)
	set(&in.ServiceDate, p.ServiceDate)
	set(&in.StartTime, p.StartTime)
	set(&in.EndTime, p.EndTime)
	set(&in.Description, p.Description)
	set(&in.SupervisorName, p.SupervisorName)
	set(&in.SupervisorEmail, p.SupervisorEmail)
	set(&in.SupervisorPhone, p.SupervisorPhone)
	return in
}

func apply(sub *model.ServiceSubmission, in SubmitInput, hours float64, now time.Time) {
	sub.OrganizationName = in.OrganizationName
	sub.ServiceDate = in.ServiceDate
	sub.StartTime = in.StartTime
	sub.EndTime = in.EndTime
	sub.TotalHours = hours
	sub.Description = in.Description
	sub.SupervisorName = in.SupervisorName
	sub.SupervisorEmail = in.SupervisorEmail
	sub.SupervisorPhone = in.SupervisorPhone
	sub.EvidenceURL = in.EvidenceURL
	sub.EvidenceFileName = in.EvidenceFileName
	sub.UpdatedAt = now
}

// describe は申請に生徒の氏名・メールアドレス・学年を付加する。
func describe(ctx context.Context, tx repository.Tx, sub *model.ServiceSubmission) (SubmissionView, error) {
	view := SubmissionView{Submission: sub, StudentName: "Unknown"}
	student, err := tx.Users().FindByID(ctx, sub.StudentID)
	if err != nil {
		return view, fmt.Errorf("failed to find student: %w", err)
	}
	if student != nil {
		view.StudentName = student.Name
		view.StudentEmail = student.Email
	}
	profile, err := tx.Profiles().FindByID(ctx, sub.ProfileID)
	if err != nil {
		return view, fmt.Errorf("failed to find profile: %w", err)
	}
	if profile != nil {
		view.StudentName = profile.FullName()
		view.StudentGrade = profile.Grade
	}
	return view, nil
}
