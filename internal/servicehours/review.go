package servicehours

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/chapterhub/internal/model"
	"github.com/hitoshi/chapterhub/internal/repository"
)

// Review は管理者による審査判定を記録し、判定に応じて保留時間・承認時間を移動する。
// 審査できるのはpendingの申請のみ。denied・revision_requestedではメモが必須。
//
//   - approved: 保留時間から承認時間へ移動
//   - denied: 保留時間から差し引くのみ
//   - revision_requested: 再提出まで保留時間に残す
func (s *Service) Review(ctx context.Context, token, submissionID string, decision model.SubmissionStatus, notes string) error {
	notes = s.sanitizer.Sanitize(notes)

	var studentID string
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		admin, err := s.guard.RequireAdmin(ctx, tx, token)
		if err != nil {
			return err
		}

		switch decision {
		case model.SubmissionApproved, model.SubmissionDenied, model.SubmissionRevisionRequested:
		default:
			return model.NewValidationError("decision must be approved, denied or revision_requested")
		}
		if decision != model.SubmissionApproved && notes == "" {
			return model.NewValidationError("notes are required when denying or requesting revision")
		}

		submission, err := tx.Submissions().LockByID(ctx, submissionID)
		if err != nil {
			return fmt.Errorf("failed to lock submission: %w", err)
		}
		if submission == nil {
			return model.NewSubmissionNotFoundError(submissionID)
		}
		if submission.Status != model.SubmissionPending {
			return model.NewSubmissionNotReviewableError(submission.Status)
		}

		now := s.clock.Now()
		reviewer := admin.ID
		submission.Status = decision
		submission.ReviewedBy = &reviewer
		submission.ReviewedAt = &now
		submission.ReviewNotes = notes
		submission.UpdatedAt = now
		if err := tx.Submissions().Update(ctx, submission); err != nil {
			return fmt.Errorf("failed to record review: %w", err)
		}

		switch decision {
		case model.SubmissionApproved:
			err = tx.Profiles().AdjustHours(ctx, submission.ProfileID, -submission.TotalHours, submission.TotalHours)
		case model.SubmissionDenied:
			err = tx.Profiles().AdjustHours(ctx, submission.ProfileID, -submission.TotalHours, 0)
		}
		if err != nil {
			return fmt.Errorf("failed to move hours: %w", err)
		}

		studentID = submission.StudentID
		return notifyReview(ctx, tx, submission, now)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordReview(string(decision))
	slog.Info("submission reviewed",
		slog.String("submission_id", submissionID),
		slog.String("student_id", studentID),
		slog.String("decision", string(decision)),
	)
	return nil
}

// ListForReview は管理者向けに指定状態の申請を新しい順で返す。statusがnilの場合はpending。
// 管理者以外は空のスライスを返す。
func (s *Service) ListForReview(ctx context.Context, token string, status *model.SubmissionStatus) ([]SubmissionView, error) {
	views := []SubmissionView{}
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil || user.Role != model.RoleAdmin {
			return err
		}

		filter := repository.SubmissionFilter{Status: status}
		if filter.Status == nil {
			pending := model.SubmissionPending
			filter.Status = &pending
		}
		submissions, err := tx.Submissions().List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list submissions: %w", err)
		}
		for _, sub := range submissions {
			v, err := describe(ctx, tx, sub)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// AdminStats は管理者ダッシュボードの集計値。
type AdminStats struct {
	PendingSubmissions     int
	UnverifiedStudents     int
	ApprovedHoursThisMonth float64 // 小数第1位に丸める
	DeniedThisMonth        int
}

// AdminStats は審査待ち件数、未承認の生徒数、今月（UTC）の承認時間と却下件数を返す。
// 管理者以外はnilを返す。
func (s *Service) AdminStats(ctx context.Context, token string) (*AdminStats, error) {
	var stats *AdminStats
	err := s.store.View(ctx, func(tx repository.Tx) error {
		user, err := s.guard.CurrentUser(ctx, tx, token)
		if err != nil || user == nil || user.Role != model.RoleAdmin {
			return err
		}

		out := &AdminStats{}
		out.PendingSubmissions, err = tx.Submissions().CountByStatus(ctx, model.SubmissionPending)
		if err != nil {
			return fmt.Errorf("failed to count pending submissions: %w", err)
		}
		out.UnverifiedStudents, err = tx.Profiles().CountByStatus(ctx, model.VerificationPending)
		if err != nil {
			return fmt.Errorf("failed to count unverified profiles: %w", err)
		}

		now := s.clock.Now().UTC()
		startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		approved, denied, err := tx.Submissions().ReviewStatsSince(ctx, startOfMonth)
		if err != nil {
			return fmt.Errorf("failed to aggregate reviews: %w", err)
		}
		out.ApprovedHoursThisMonth = math.Round(approved*10) / 10
		out.DeniedThisMonth = denied
		stats = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// notifyReview は審査結果を申請者に通知する。
func notifyReview(ctx context.Context, tx repository.Tx, sub *model.ServiceSubmission, now time.Time) error {
	submissionID := sub.ID
	n := &model.Notification{
		ID:                  uuid.New().String(),
		UserID:              sub.StudentID,
		RelatedSubmissionID: &submissionID,
		CreatedAt:           now,
	}
	hours := strconv.FormatFloat(sub.TotalHours, 'f', -1, 64)
	switch sub.Status {
	case model.SubmissionApproved:
		n.Type = model.NotificationSubmissionApproved
		n.Title = "Service hours approved"
		n.Message = fmt.Sprintf("Your %s hours at %s were approved.", hours, sub.OrganizationName)
	case model.SubmissionDenied:
		n.Type = model.NotificationSubmissionDenied
		n.Title = "Service hours denied"
		n.Message = fmt.Sprintf("Your %s hours at %s were denied: %s", hours, sub.OrganizationName, sub.ReviewNotes)
	default:
		n.Type = model.NotificationRevisionRequested
		n.Title = "Revision requested"
		n.Message = fmt.Sprintf("Please revise your submission for %s: %s", sub.OrganizationName, sub.ReviewNotes)
	}
	if err := tx.Notifications().Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
